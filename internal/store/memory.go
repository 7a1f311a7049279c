package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tyler180/quiz-results/internal/model"
)

type slugKey struct {
	cityID int
	slug   string
}

type nameKey struct {
	cityID int
	name   string
}

// Memory is an in-process Storage. It enforces the same (city, slug)
// uniqueness as the persistent backends.
type Memory struct {
	mu      sync.RWMutex
	cities  map[int]model.City
	teams   map[string]model.Team
	bySlug  map[slugKey]string
	byName  map[nameKey]string
	ranks   []model.RankMapping
	games   map[int]model.Game
	results []model.GameResult
}

func NewMemory() *Memory {
	return &Memory{
		cities: map[int]model.City{},
		teams:  map[string]model.Team{},
		bySlug: map[slugKey]string{},
		byName: map[nameKey]string{},
		games:  map[int]model.Game{},
	}
}

// PutCity adds or replaces a city.
func (m *Memory) PutCity(c model.City) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities[c.ID] = c
}

// PutGame adds or replaces a game.
func (m *Memory) PutGame(g model.Game) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
}

// SetRankMappings replaces the rank reference data.
func (m *Memory) SetRankMappings(r []model.RankMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranks = append([]model.RankMapping(nil), r...)
}

func (m *Memory) FindCityByName(_ context.Context, name string) (model.City, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.City{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.cities {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return model.City{}, ErrNotFound
}

func (m *Memory) FindTeamByNameAndCity(_ context.Context, name string, cityID int) (model.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[nameKey{cityID, model.NormalizeName(name)}]
	if !ok {
		return model.Team{}, ErrNotFound
	}
	return m.teams[id], nil
}

func (m *Memory) FindTeamBySlugAndCity(_ context.Context, slug string, cityID int) (model.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySlug[slugKey{cityID, slug}]
	if !ok {
		return model.Team{}, ErrNotFound
	}
	return m.teams[id], nil
}

func (m *Memory) SaveTeam(_ context.Context, t model.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk := slugKey{t.CityID, t.Slug}
	if id, ok := m.bySlug[sk]; ok && id != t.ID {
		return ErrSlugTaken
	}
	m.teams[t.ID] = t
	m.bySlug[sk] = t.ID
	m.byName[nameKey{t.CityID, model.NormalizeName(t.Name)}] = t.ID
	return nil
}

func (m *Memory) SaveResults(_ context.Context, results []model.GameResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
	return nil
}

func (m *Memory) Cities(_ context.Context) ([]model.City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.City, 0, len(m.cities))
	for _, c := range m.cities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) RankMappings(_ context.Context) ([]model.RankMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.RankMapping(nil), m.ranks...), nil
}

func (m *Memory) GamesWithoutResults(_ context.Context) ([]model.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Game, 0)
	for _, g := range m.games {
		if !g.Processed {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkGameAsProcessed(_ context.Context, gameID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.Processed = true
	m.games[gameID] = g
	return nil
}

// Teams returns all saved teams ordered by city and slug.
func (m *Memory) Teams() []model.Team {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Team, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CityID == out[j].CityID {
			return out[i].Slug < out[j].Slug
		}
		return out[i].CityID < out[j].CityID
	})
	return out
}

// Results returns a copy of all saved results.
func (m *Memory) Results() []model.GameResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.GameResult(nil), m.results...)
}
