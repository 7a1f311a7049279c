package main

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tyler180/quiz-results/internal/audit"
	"github.com/tyler180/quiz-results/internal/config"
	"github.com/tyler180/quiz-results/internal/export"
	"github.com/tyler180/quiz-results/internal/metrics"
	"github.com/tyler180/quiz-results/internal/pipeline"
	"github.com/tyler180/quiz-results/internal/results"
	"github.com/tyler180/quiz-results/internal/store"
	"github.com/tyler180/quiz-results/internal/teams"
	"github.com/tyler180/quiz-results/pkg/logger"
)

const (
	modeResults = "results"
	modeAudit   = "audit"
)

// Event is the Lambda payload. An empty mode means results.
type Event struct {
	Mode string `json:"mode"`
}

type Response struct {
	Mode          string                  `json:"mode"`
	Summary       *pipeline.Summary       `json:"summary,omitempty"`
	Discrepancies []audit.GameDiscrepancy `json:"discrepancies,omitempty"`
}

type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Manager
	runner  *pipeline.Runner
	auditor *audit.Runner
	closers []func() error
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Backend == config.BackendDynamoDB || cfg.ExportBucket != "" || cfg.AthenaOutput != ""
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.NewManager()}

	var (
		ddbc *dynamodb.Client
		s3c  *s3.Client
		athc *athena.Client
	)
	if needsAWS(cfg) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		ddbc = dynamodb.NewFromConfig(awsCfg)
		s3c = s3.NewFromConfig(awsCfg)
		athc = athena.NewFromConfig(awsCfg)
	}

	var st store.Storage
	switch cfg.Backend {
	case config.BackendMemory:
		st = store.NewMemory()
	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		a.closers = append(a.closers, s.Close)
		st = s
	default:
		st = store.NewDynamoDB(ddbc, store.Tables{
			Cities:  cfg.TableCities,
			Teams:   cfg.TableTeams,
			Results: cfg.TableResults,
			Games:   cfg.TableGames,
			Ranks:   cfg.TableRanks,
		})
	}

	tc := results.DefaultTransportConfig()
	tc.BaseURL = cfg.BaseURL
	tc.InsecureSkipVerify = cfg.InsecureTLS
	tc.Timeout = cfg.HTTPTimeout
	tc.MaxAttempts = cfg.HTTPMaxAttempts

	resolver := teams.NewResolver(st, log, teams.WithCreatedHook(a.metrics.TeamCreated))
	scraper := results.NewScraper(results.NewFetcher(tc), st, resolver, log, results.WithObserver(a.metrics))

	opts := []pipeline.Option{
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithRecorder(a.metrics),
		pipeline.WithCityFilter(cfg.WantsCity),
	}
	if cfg.ExportBucket != "" {
		opts = append(opts, pipeline.WithExporter(export.NewExporter(s3c, cfg.ExportBucket, cfg.ExportPrefix)))
	}
	a.runner = pipeline.NewRunner(st, scraper, log, opts...)

	if athc != nil && cfg.AthenaOutput != "" {
		a.auditor = &audit.Runner{
			Client:    athc,
			Workgroup: cfg.AthenaWorkgroup,
			Database:  cfg.AthenaDB,
			OutputS3:  cfg.AthenaOutput,
			Logger:    log.Named("audit"),
		}
	}
	return a, nil
}

func (a *app) handle(ctx context.Context, ev Event) (Response, error) {
	mode := strings.ToLower(strings.TrimSpace(ev.Mode))
	if mode == "" {
		mode = modeResults
	}
	switch mode {
	case modeResults:
		sum, err := a.runner.ProcessPending(ctx)
		if err != nil {
			return Response{Mode: mode}, err
		}
		return Response{Mode: mode, Summary: &sum}, nil
	case modeAudit:
		if a.auditor == nil {
			return Response{Mode: mode}, fmt.Errorf("%w: audit needs athena_output", config.ErrInvalidConfig)
		}
		if a.cfg.ExportBucket != "" {
			loc := fmt.Sprintf("s3://%s/%s/", a.cfg.ExportBucket, strings.Trim(a.cfg.ExportPrefix, "/"))
			if err := a.auditor.EnsureTable(ctx, a.cfg.AthenaTable, loc); err != nil {
				return Response{Mode: mode}, err
			}
		}
		ds, err := a.auditor.DiscrepancySummary(ctx, a.cfg.AthenaTable)
		if err != nil {
			return Response{Mode: mode}, err
		}
		a.log.Info(ctx, "audit finished", logger.Int("games_with_discrepancies", len(ds)))
		return Response{Mode: mode, Discrepancies: ds}, nil
	default:
		return Response{Mode: mode}, fmt.Errorf("unknown mode %q", ev.Mode)
	}
}

func (a *app) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
