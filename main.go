package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"inverter-report/config"
	"inverter-report/fetcher/mailbox"
	"inverter-report/fetcher/portal"
	"inverter-report/metrics"
	"inverter-report/models"
	"inverter-report/services"
	"inverter-report/storage"
	"inverter-report/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.InboxDir, "inbox", cfg.InboxDir, "Directory of exported .eml messages")
	flag.StringVar(&cfg.Schedule, "schedule", cfg.Schedule, "Cron spec; empty runs once and exits")
	flag.BoolVar(&cfg.DedupOnWrite, "dedup-on-write", cfg.DedupOnWrite, "Skip records already present in the master dataset")
	rebuild := flag.Bool("rebuild-view", false, "Only regenerate the report view from the master dataset")
	flag.Parse()

	logger := utils.NewLogger(utils.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Inverter Report Pipeline starting ===")
	logger.Info("Config: master %s | view %s | inbox %s | dedup-on-write %t",
		cfg.MasterCSVPath, cfg.ReportViewPath, cfg.InboxDir, cfg.DedupOnWrite)

	if err := os.MkdirAll(cfg.TempDownloadFolder, 0755); err != nil {
		logger.Error("Failed to create temp download folder: %v", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone %q, using local time", cfg.Timezone)
		loc = time.Local
	}

	runMetrics := metrics.New()
	opts := []services.Option{services.WithMetrics(runMetrics)}

	if cfg.PostgresEnabled {
		pgWriter, err := storage.NewPostgresWriter(ctx, cfg.DSN())
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
			os.Exit(1)
		}
		defer pgWriter.Close()
		opts = append(opts, services.WithMirror(pgWriter))
	}

	if cfg.S3Enabled {
		publisher, err := storage.NewS3Publisher(ctx, storage.S3Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logger.Error("Failed to set up S3 publisher: %v", err)
			os.Exit(1)
		}
		opts = append(opts, services.WithPublisher(publisher))
	}

	master := storage.NewMasterCSV(cfg.MasterCSVPath)
	view := storage.NewViewCSV(cfg.ReportViewPath)
	pipeline := services.NewPipeline(cfg, logger, master, view, opts...)
	summarySvc := services.NewSummaryService(logger)

	if *rebuild {
		v, err := pipeline.RebuildView(ctx)
		if err != nil {
			logger.Error("Report view regeneration failed: %v", err)
			os.Exit(1)
		}
		summarySvc.Print(&models.RunSummary{RunID: "rebuild", NoNewData: true}, summarySvc.Insights(v))
		return
	}

	run := func() error {
		summary, err := runOnce(ctx, cfg, loc, logger, pipeline)
		if summary != nil {
			var insights *models.YieldInsights
			if summary.View != nil {
				insights = summarySvc.Insights(summary.View)
			}
			summarySvc.Print(summary, insights)
		}
		if cfg.MetricsPath != "" {
			if merr := runMetrics.WriteTextfile(cfg.MetricsPath); merr != nil {
				logger.Warn("Failed to write metrics: %v", merr)
			}
		}
		return err
	}

	if cfg.Schedule == "" {
		if err := run(); err != nil {
			logger.Error("Run failed: %v", err)
			os.Exit(1)
		}
		logger.Info("Complete.")
		return
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.Schedule, func() {
		if err := run(); err != nil {
			logger.Error("Scheduled run failed: %v", err)
		}
	})
	if err != nil {
		logger.Error("Invalid schedule %q: %v", cfg.Schedule, err)
		os.Exit(1)
	}

	c.Start()
	logger.Info("Scheduled with %q (%s), waiting for signal", cfg.Schedule, loc)
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("Scheduler stopped.")
}

// runOnce fetches every attachment newer than the dataset and feeds the pipeline.
func runOnce(ctx context.Context, cfg *config.Config, loc *time.Location, logger *utils.Logger, pipeline *services.Pipeline) (*models.RunSummary, error) {
	since, err := pipeline.LastUpdated()
	if err != nil {
		return nil, err
	}

	var attachments []models.Attachment

	mail := mailbox.New(mailbox.Options{
		Dir:      cfg.InboxDir,
		Subject:  cfg.EmailSubject,
		TempDir:  cfg.TempDownloadFolder,
		Location: loc,
	}, logger)
	fromMail, err := mail.Fetch(ctx, since)
	if err != nil {
		logger.Error("Mailbox scan failed: %v", err)
	}
	attachments = append(attachments, fromMail...)

	if cfg.PortalURL != "" {
		web := portal.New(portal.Options{
			URL:            cfg.PortalURL,
			ExportSelector: cfg.PortalExportSelector,
			TempDir:        cfg.TempDownloadFolder,
			ChromeBin:      cfg.ChromeBin,
			MaxRetries:     cfg.MaxRetries,
		}, logger)
		fromPortal, err := web.Fetch(ctx, since)
		if err != nil {
			logger.Error("Portal export failed: %v", err)
		}
		attachments = append(attachments, fromPortal...)
	}

	return pipeline.Run(ctx, attachments)
}
