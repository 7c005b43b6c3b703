package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"socialmetrics-backend/lib/configutil"
	configsqlite "socialmetrics-backend/lib/configutil/sqlite"
	"socialmetrics-backend/lib/metricstore"
	metricsdb "socialmetrics-backend/lib/metricstore/db"
	"socialmetrics-backend/lib/serviceutil"
	"socialmetrics-backend/lib/telemetry"
	"socialmetrics-backend/services/ingest"
)

type Config struct {
	Database configsqlite.Struct `json:"database"`
	// Schedule is a cron expression for the daemon command.
	Schedule string        `json:"schedule"`
	Ingest   ingest.Config `json:"ingest"`
}

type app struct {
	ctx     context.Context
	config  Config
	db      *sql.DB
	service ingest.Service
	tel     telemetry.Telemetry
}

func setup() app {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	db, err := config.Database.OpenDB(metricsdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	tel, err := telemetry.SetupFromEnv(ctx, "ingestd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}

	store := metricstore.NewStore(db)
	return app{
		ctx:     ctx,
		config:  config,
		db:      db,
		service: ingest.NewService(config.Ingest, store),
		tel:     tel,
	}
}

func (a app) close() {
	a.tel.Shutdown(context.Background())
	a.db.Close()
}

var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "Pulls social platform metrics into the local metric store.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingests every configured platform once and exits.",
	Args:  cobra.MaximumNArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		a := setup()
		defer a.close()

		if err := a.service.Run(a.ctx, time.Now()); err != nil {
			serviceutil.Fatal("ingestion finished with failures", err)
		}
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Runs ingestion on the configured cron schedule.",
	Args:  cobra.MaximumNArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		a := setup()
		defer a.close()

		if a.config.Schedule == "" {
			serviceutil.Fatal("daemon requires a schedule", errors.New("schedule is empty in config.json5"))
		}

		// a run that outlasts the schedule interval must not overlap
		// the next one; the same page's rows would interleave
		var running sync.Mutex
		cronner := cron.New()
		_, err := cronner.AddFunc(a.config.Schedule, func() {
			if !running.TryLock() {
				slog.Warn("previous ingestion still running, skipping this tick")
				return
			}
			defer running.Unlock()

			if err := a.service.Run(a.ctx, time.Now()); err != nil {
				slog.Error("scheduled ingestion finished with failures", "err", err)
			}
		})
		if err != nil {
			serviceutil.Fatal("failed to schedule ingestion", err)
		}

		slog.Info("ingestion scheduled", "schedule", a.config.Schedule)
		cronner.Start()
		<-a.ctx.Done()
		<-cronner.Stop().Done()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Prints row counts of the stored metric tables.",
	Args:  cobra.MaximumNArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		a := setup()
		defer a.close()

		store := metricstore.NewStore(a.db)
		counts, err := store.Summary(a.ctx)
		if err != nil {
			serviceutil.Fatal("failed to summarize store", err)
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Table", "Rows"})
		for _, c := range counts {
			t.AppendRow(table.Row{c.Table, c.Rows})
		}
		cmd.Println(t.Render())
	},
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(reportCmd)
	if err := rootCmd.Execute(); err != nil {
		serviceutil.Fatal("command failed", err)
	}
}
