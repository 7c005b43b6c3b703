package graphclient

import (
	"context"
	"encoding/json"
	"net/url"
)

type page struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Pager lazily walks a {data: [...], paging: {next}} collection, yielding
// items in server order and following continuation URLs until exhausted.
// It is not restartable: a fresh Paginate call re-issues the first request
// against live data.
//
//	pager := client.Paginate("/123/posts", query)
//	for pager.Next(ctx) {
//		var post Post
//		if err := pager.Decode(&post); err != nil { ... }
//	}
//	if err := pager.Err(); err != nil { ... }
type Pager struct {
	client  *Client
	path    string
	query   url.Values
	started bool
	next    string
	items   []json.RawMessage
	idx     int
	cur     json.RawMessage
	err     error
}

func (c *Client) Paginate(path string, query url.Values) *Pager {
	return &Pager{client: c, path: path, query: query}
}

// Next advances to the next item, fetching pages as needed. It returns
// false when the collection is exhausted or a fetch failed; check Err to
// tell the two apart.
func (p *Pager) Next(ctx context.Context) bool {
	if p.err != nil {
		return false
	}
	for {
		if p.idx < len(p.items) {
			p.cur = p.items[p.idx]
			p.idx++
			return true
		}

		var pg page
		switch {
		case !p.started:
			p.started = true
			p.err = p.client.Get(ctx, p.path, p.query, &pg)
		case p.next != "":
			p.err = p.client.FetchURL(ctx, p.next, &pg)
		default:
			return false
		}
		if p.err != nil {
			return false
		}

		p.items = pg.Data
		p.idx = 0
		p.next = pg.Paging.Next
		if len(p.items) == 0 && p.next == "" {
			return false
		}
	}
}

// Item returns the raw item the last successful Next call advanced to.
func (p *Pager) Item() json.RawMessage {
	return p.cur
}

// Decode unmarshals the current item into out.
func (p *Pager) Decode(out any) error {
	return json.Unmarshal(p.cur, out)
}

// Err reports the failure that terminated iteration, if any.
func (p *Pager) Err() error {
	return p.err
}
