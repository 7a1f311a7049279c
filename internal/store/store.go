// Package store persists the city/team registry, rank reference data, games
// and game results.
package store

import (
	"context"
	"errors"

	"github.com/tyler180/quiz-results/internal/model"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("store: not found")
	// ErrSlugTaken is returned by SaveTeam when the (city, slug) pair already exists.
	ErrSlugTaken = errors.New("store: slug already taken in city")
)

// Registry is the read/write surface the team resolver and row extractor need.
type Registry interface {
	FindCityByName(ctx context.Context, name string) (model.City, error)
	FindTeamByNameAndCity(ctx context.Context, name string, cityID int) (model.Team, error)
	FindTeamBySlugAndCity(ctx context.Context, slug string, cityID int) (model.Team, error)
	SaveTeam(ctx context.Context, team model.Team) error
}

// Storage is everything the ingestion pipeline reads or writes.
type Storage interface {
	Registry

	// SaveResults writes one game's results as a batch. Reprocessing a game
	// overwrites nothing and deduplicates nothing.
	SaveResults(ctx context.Context, results []model.GameResult) error

	Cities(ctx context.Context) ([]model.City, error)
	RankMappings(ctx context.Context) ([]model.RankMapping, error)
	GamesWithoutResults(ctx context.Context) ([]model.Game, error)
	MarkGameAsProcessed(ctx context.Context, gameID int) error
}
