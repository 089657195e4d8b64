package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/aqicast/internal/api"
	"github.com/lox/aqicast/internal/evaluation"
	"github.com/lox/aqicast/internal/ingest"
	"github.com/lox/aqicast/internal/training"
)

type ServeCmd struct {
	NoSchedule bool   `help:"Serve the API without polling or daily jobs." name:"no-schedule"`
	Addr       string `help:"Listen address (overrides server.addr)."`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	svc := a.service()
	server := api.NewServer(a.store, svc, a.cfg.Station.ID, addr, a.log)

	group, ctx := errgroup.WithContext(ctx)
	if !c.NoSchedule {
		jobs, err := a.dailyJobs(svc)
		if err != nil {
			return err
		}
		scheduler := ingest.NewScheduler(a.ingester(), jobs, a.loc, a.log)
		scheduler.SetIntervals(a.cfg.Schedule.ReadingInterval, a.cfg.Schedule.DailyAt)
		group.Go(func() error { return scheduler.Run(ctx) })
	} else {
		a.log.Info("scheduler disabled (--no-schedule)")
	}
	group.Go(func() error { return server.Run(ctx) })
	return group.Wait()
}

type FetchCmd struct {
	Weather bool `help:"Also catch up daily weather through yesterday."`
}

func (c *FetchCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	in := a.ingester()
	if err := ingest.NewScheduler(in, nil, a.loc, a.log).IngestOnce(ctx); err != nil {
		return err
	}
	if !c.Weather {
		return nil
	}
	since, err := a.cfg.WeatherSince()
	if err != nil {
		return err
	}
	days, err := in.CatchUpWeather(ctx, since, time.Now().In(a.loc))
	if err != nil {
		return err
	}
	a.log.Infow("fetch: weather", "days", days)
	return nil
}

type ImportArchiveCmd struct {
	Location string `arg:"" optional:"" help:"CSV path or ftp:// URL (defaults to archive.location)."`
}

func (c *ImportArchiveCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	location := c.Location
	if location == "" {
		location = a.cfg.Archive.Location
	}
	if location == "" {
		return errors.New("no archive location given and archive.location is not set")
	}
	_, err = a.ingester().ImportArchive(location)
	return err
}

type TrainCmd struct {
	NoDeploy bool   `help:"Register the model without deploying it." name:"no-deploy"`
	Report   string `help:"Also write the evaluation report as JSON to this file." type:"path"`
}

func (c *TrainCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	opts := a.trainingOptions()
	deploy := a.cfg.Training.AutoDeploy && !c.NoDeploy
	outcome, version, err := training.NewTrainer(a.store, a.cfg.Station.ID, a.log).Run(ctx, opts, deploy)
	if err != nil {
		return err
	}
	if err := outcome.Report.Render(os.Stdout); err != nil {
		return err
	}
	fmt.Printf("\nversion %d  %s=%.4f  run %s\n", version, opts.Metric, outcome.Headline, outcome.RunID)

	if c.Report != "" {
		mv, err := a.store.GetModelVersion(version)
		if err != nil {
			return err
		}
		if mv == nil {
			return fmt.Errorf("model version %d not found", version)
		}
		if err := os.WriteFile(c.Report, []byte(mv.ReportJSON), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

type DeployCmd struct {
	Version int `arg:"" optional:"" help:"Version to deploy (defaults to the best by training.metric)."`
}

func (c *DeployCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	version := c.Version
	if version == 0 {
		metric := a.cfg.Training.Metric
		best, err := a.store.BestModelVersion(metric, evaluation.HigherIsBetter(metric))
		if err != nil {
			return err
		}
		if best == nil {
			return fmt.Errorf("no model versions scored by %s", metric)
		}
		version = best.Version
	}
	if err := a.store.Deploy(version); err != nil {
		return err
	}
	a.log.Infow("deploy: deployed model", "version", version)
	return nil
}

type ModelsCmd struct {
	Limit int `help:"Maximum versions to list." default:"20"`
}

func (c *ModelsCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	versions, err := a.store.ListModelVersions(c.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tH/P/N\tMETRIC\tSCORE\tDEPLOYED")
	for _, mv := range versions {
		deployed := ""
		if mv.Deployed {
			deployed = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%d/%d/%d\t%s\t%.4f\t%s\n", mv.Version, mv.CreatedAt.In(a.loc).Format(time.DateTime),
			mv.HistoricalWindow, mv.PredictionWindow, mv.NumPredictions, mv.Metric, mv.Score, deployed)
	}
	return w.Flush()
}

type PredictCmd struct {
	Issue bool `help:"Record the forecast for later verification."`
	Raw   bool `help:"Skip bias correction."`
}

func (c *PredictCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	svc := a.service()
	issue := svc.Forecast
	if c.Issue {
		issue = svc.Issue
	}
	fc, err := issue(ctx)
	if err != nil {
		return err
	}
	if !c.Raw {
		stats, err := a.store.GetVerificationStats()
		if err != nil {
			return err
		}
		fc = fc.Corrected(stats)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

type DailyCmd struct {
	Date  string `help:"Day to verify (YYYY-MM-DD, defaults to yesterday)."`
	Issue bool   `help:"Issue a forecast with the deployed model."`
}

func (c *DailyCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	forDate := time.Now().In(a.loc).AddDate(0, 0, -1)
	if c.Date != "" {
		if forDate, err = time.ParseInLocation(time.DateOnly, c.Date, a.loc); err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
	}
	var issuer ingest.Issuer
	if c.Issue {
		issuer = a.service()
	}
	jobs, err := a.dailyJobs(issuer)
	if err != nil {
		return err
	}
	return jobs.RunAll(ctx, forDate)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	version, err := a.store.MigrationVersion()
	if err != nil {
		return err
	}
	a.log.Infow("migrate: database up to date", "version", version, "path", a.cfg.DB.Path)
	return nil
}
