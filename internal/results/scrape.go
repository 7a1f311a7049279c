// Package results locates the results table on a game page, maps its columns
// and turns each row into a GameResult.
package results

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/tyler180/quiz-results/internal/model"
	"github.com/tyler180/quiz-results/pkg/logger"
)

// Observer receives per-game instrumentation.
type Observer interface {
	RowSkipped(reason string)
	ObserveFetch(d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RowSkipped(string)                {}
func (nopObserver) ObserveFetch(time.Duration, error) {}

type Scraper struct {
	fetcher PageFetcher
	x       extractor
	log     logger.Logger
	obs     Observer
}

type Option func(*Scraper)

func WithObserver(o Observer) Option {
	return func(s *Scraper) {
		if o != nil {
			s.obs = o
			s.x.obs = o
		}
	}
}

// WithIDGenerator replaces the uuid v4 result id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scraper) { s.x.newID = fn }
}

func NewScraper(fetcher PageFetcher, cities CityFinder, resolver TeamResolver, log logger.Logger, opts ...Option) *Scraper {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("results")
	s := &Scraper{
		fetcher: fetcher,
		log:     log,
		obs:     nopObserver{},
		x: extractor{
			cities:   cities,
			resolver: resolver,
			log:      log,
			obs:      nopObserver{},
			newID:    uuid.NewString,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScrapeResults fetches and parses one game. Every failure is logged and
// yields an empty slice.
func (s *Scraper) ScrapeResults(ctx context.Context, gameID int, city model.City, ranks []model.RankMapping) []model.GameResult {
	s.log.Info(ctx, "processing game", logger.Int("game_id", gameID), logger.String("city", city.Name))

	start := time.Now()
	html, err := s.fetcher.FetchGamePage(ctx, city, gameID)
	s.obs.ObserveFetch(time.Since(start), err)
	if err != nil {
		s.log.Error(ctx, "fetch game page failed", logger.Int("game_id", gameID), logger.String("city", city.Slug), logger.Error(err))
		return []model.GameResult{}
	}
	return s.ParseResults(ctx, html, gameID, city, ranks)
}

// ParseResults runs the pipeline on an already fetched page.
func (s *Scraper) ParseResults(ctx context.Context, html string, gameID int, city model.City, ranks []model.RankMapping) []model.GameResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.log.Error(ctx, "parse html failed", logger.Int("game_id", gameID), logger.Error(err))
		return []model.GameResult{}
	}

	table, err := FindResultsTable(doc)
	if err != nil {
		s.log.Warn(ctx, "no results table found", logger.Int("game_id", gameID), logger.String("city", city.Name))
		return []model.GameResult{}
	}

	cols, err := MapColumns(table.Header)
	if err != nil {
		s.log.Error(ctx, "results table lacks required columns", logger.Int("game_id", gameID), logger.Error(err))
		return []model.GameResult{}
	}

	out := s.x.extract(ctx, table, cols, gameID, city, ranks)
	s.log.Info(ctx, "game parsed",
		logger.Int("game_id", gameID),
		logger.Int("results", len(out)),
		logger.Int("rounds", len(cols.Rounds)))
	return out
}
