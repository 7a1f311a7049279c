// Package pipeline drives one pass over the games that still lack results.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tyler180/quiz-results/internal/metrics"
	"github.com/tyler180/quiz-results/internal/model"
	"github.com/tyler180/quiz-results/internal/store"
	"github.com/tyler180/quiz-results/pkg/logger"
)

// Scraper produces the results of one game. It never fails; problems
// yield an empty slice.
type Scraper interface {
	ScrapeResults(ctx context.Context, gameID int, city model.City, ranks []model.RankMapping) []model.GameResult
}

// Exporter archives a processed game's results.
type Exporter interface {
	ExportGame(ctx context.Context, game model.Game, results []model.GameResult) (string, error)
}

// Recorder receives pass-level metrics.
type Recorder interface {
	GameOutcome(outcome string)
	ResultsEmitted(n, discrepancies int)
	ObserveRun(d time.Duration)
}

type Summary struct {
	Games         int
	Processed     int
	Empty         int
	Failed        int
	Results       int
	Discrepancies int
}

type Runner struct {
	store       store.Storage
	scraper     Scraper
	exporter    Exporter
	rec         Recorder
	log         logger.Logger
	concurrency int
	wantCity    func(int) bool
}

type Option func(*Runner)

func WithExporter(e Exporter) Option { return func(r *Runner) { r.exporter = e } }

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.rec = rec
		}
	}
}

// WithConcurrency bounds how many games run at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithCityFilter restricts the pass to cities for which fn is true.
func WithCityFilter(fn func(cityID int) bool) Option {
	return func(r *Runner) {
		if fn != nil {
			r.wantCity = fn
		}
	}
}

func NewRunner(st store.Storage, sc Scraper, log logger.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{
		store:       st,
		scraper:     sc,
		rec:         (*metrics.Manager)(nil),
		log:         log.Named("pipeline"),
		concurrency: 1,
		wantCity:    func(int) bool { return true },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ProcessPending scrapes every pending game. Failures are isolated per game;
// an error is returned only when the reference data cannot be loaded.
func (r *Runner) ProcessPending(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { r.rec.ObserveRun(time.Since(start)) }()

	cities, err := r.store.Cities(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load cities: %w", err)
	}
	byID := make(map[int]model.City, len(cities))
	for _, c := range cities {
		byID[c.ID] = c
	}
	ranks, err := r.store.RankMappings(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load rank mappings: %w", err)
	}
	games, err := r.store.GamesWithoutResults(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load pending games: %w", err)
	}

	pending := games[:0]
	for _, game := range games {
		if r.wantCity(game.CityID) {
			pending = append(pending, game)
		}
	}

	var (
		mu  sync.Mutex
		sum = Summary{Games: len(pending)}
	)
	add := func(fn func(s *Summary)) {
		mu.Lock()
		fn(&sum)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, game := range pending {
		game := game
		g.Go(func() error {
			outcome, n, bad := r.processGame(gctx, game, byID, ranks)
			r.rec.GameOutcome(outcome)
			add(func(s *Summary) {
				switch outcome {
				case metrics.OutcomeProcessed:
					s.Processed++
				case metrics.OutcomeEmpty:
					s.Empty++
				default:
					s.Failed++
				}
				s.Results += n
				s.Discrepancies += bad
			})
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info(ctx, "pass finished",
		logger.Int("games", sum.Games),
		logger.Int("processed", sum.Processed),
		logger.Int("empty", sum.Empty),
		logger.Int("failed", sum.Failed),
		logger.Int("results", sum.Results),
		logger.Int("discrepancies", sum.Discrepancies))
	return sum, ctx.Err()
}

func (r *Runner) processGame(ctx context.Context, game model.Game, cities map[int]model.City, ranks []model.RankMapping) (string, int, int) {
	city, ok := cities[game.CityID]
	if !ok {
		r.log.Error(ctx, "city not found for game", logger.Int("game_id", game.ID), logger.Int("city_id", game.CityID))
		return metrics.OutcomeFailed, 0, 0
	}

	results := r.scraper.ScrapeResults(ctx, game.ID, city, ranks)
	if len(results) == 0 {
		return metrics.OutcomeEmpty, 0, 0
	}

	bad := 0
	for _, res := range results {
		if res.HasErrors {
			bad++
		}
	}

	if err := r.store.SaveResults(ctx, results); err != nil {
		r.log.Error(ctx, "save results failed", logger.Int("game_id", game.ID), logger.Error(err))
		return metrics.OutcomeFailed, 0, 0
	}
	r.rec.ResultsEmitted(len(results), bad)

	if err := r.store.MarkGameAsProcessed(ctx, game.ID); err != nil {
		r.log.Error(ctx, "mark game processed failed", logger.Int("game_id", game.ID), logger.Error(err))
		return metrics.OutcomeFailed, len(results), bad
	}

	if r.exporter != nil {
		key, err := r.exporter.ExportGame(ctx, game, results)
		if err != nil {
			r.log.Warn(ctx, "export failed", logger.Int("game_id", game.ID), logger.Error(err))
		} else {
			r.log.Debug(ctx, "game exported", logger.Int("game_id", game.ID), logger.String("key", key))
		}
	}

	r.log.Info(ctx, "game processed",
		logger.Int("game_id", game.ID),
		logger.String("city", city.Name),
		logger.Int("results", len(results)),
		logger.Int("discrepancies", bad))
	return metrics.OutcomeProcessed, len(results), bad
}
