// Package insights normalizes the time-bucketed metric payloads the vendor
// insights endpoints return, independent of any specific vendor's metric
// catalogue.
package insights

import (
	"encoding/json"
	"sort"
	"time"

	"socialmetrics-backend/lib/chrono"
)

// Document is the common shape of an insights response:
// {data: [{name, period, values: [{value, end_time}]}]}.
type Document struct {
	Data []Metric `json:"data"`
}

type Metric struct {
	Name   string  `json:"name"`
	Period string  `json:"period"`
	Values []Value `json:"values"`
}

// Value is one time-bucketed point. Depending on the metric and vendor
// version the payload is a bare number, null, a {"value": N} wrapper
// (metric_type=total_value), or a breakdown object.
type Value struct {
	Value   json.RawMessage `json:"value"`
	EndTime string          `json:"end_time"`
}

func (d Document) Metric(name string) (Metric, bool) {
	for _, m := range d.Data {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Latest returns the last value point of the metric.
func (m Metric) Latest() (Value, bool) {
	if len(m.Values) == 0 {
		return Value{}, false
	}
	return m.Values[len(m.Values)-1], true
}

// Int decodes the point as a counter. Unparseable or null values count as
// zero rather than failing: a single odd point must not sink a whole
// series.
func (v Value) Int() int64 {
	return rawInt(v.Value, 0)
}

func rawInt(raw json.RawMessage, depth int) int64 {
	if len(raw) == 0 || depth > 2 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		return rawInt(wrapper.Value, depth+1)
	}
	return 0
}

// Breakdown decodes the point as a value→count object, unwrapping a
// {"value": {...}} layer if present. Non-numeric entries are skipped.
func (v Value) Breakdown() map[string]int64 {
	return rawBreakdown(v.Value, 0)
}

func rawBreakdown(raw json.RawMessage, depth int) map[string]int64 {
	fields := unwrapObject(raw, depth)
	if fields == nil {
		return nil
	}
	out := make(map[string]int64, len(fields))
	for k, r := range fields {
		var f float64
		if err := json.Unmarshal(r, &f); err == nil {
			out[k] = int64(f)
		}
	}
	return out
}

// NestedBreakdown decodes the point as dimension→(value→count), the shape
// lifetime demographic metrics use.
func (v Value) NestedBreakdown() map[string]map[string]int64 {
	fields := unwrapObject(v.Value, 0)
	if fields == nil {
		return nil
	}
	out := make(map[string]map[string]int64, len(fields))
	for k, r := range fields {
		if b := rawBreakdown(r, 1); len(b) > 0 {
			out[k] = b
		}
	}
	return out
}

func unwrapObject(raw json.RawMessage, depth int) map[string]json.RawMessage {
	if len(raw) == 0 || depth > 2 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil
	}
	if inner, ok := m["value"]; ok && len(m) == 1 {
		return unwrapObject(inner, depth+1)
	}
	return m
}

// Counters maps canonical field names to their values for one day.
type Counters map[string]int64

// ParseSeries flattens an insights document into per-day counters.
// `mapping` translates vendor metric names to canonical fields; metrics
// not in the mapping are dropped, and every mapped field is present in
// each day's counters (defaulting to 0) so downstream subtraction never
// has to special-case absence.
func ParseSeries(doc Document, mapping map[string]string) map[time.Time]Counters {
	out := map[time.Time]Counters{}
	for _, m := range doc.Data {
		field, ok := mapping[m.Name]
		if !ok {
			continue
		}
		for _, v := range m.Values {
			day, err := chrono.ParseDay(v.EndTime)
			if err != nil {
				continue
			}
			c, ok := out[day]
			if !ok {
				c = make(Counters, len(mapping))
				for _, f := range mapping {
					c[f] = 0
				}
				out[day] = c
			}
			c[field] = v.Int()
		}
	}
	return out
}

// SortedDates returns the series' dates in ascending order. The delta
// engine requires per-entity upserts to happen in non-decreasing date
// order, so every caller iterating a series should go through this.
func SortedDates(series map[time.Time]Counters) []time.Time {
	dates := make([]time.Time, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
