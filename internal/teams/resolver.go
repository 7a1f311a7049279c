// Package teams finds or lazily creates team records with a slug that is
// unique within the team's city.
package teams

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tyler180/quiz-results/internal/model"
	"github.com/tyler180/quiz-results/internal/slug"
	"github.com/tyler180/quiz-results/internal/store"
	"github.com/tyler180/quiz-results/pkg/logger"
)

// fallbackSlug is used when a name has no sluggable characters at all.
const fallbackSlug = "team"

// maxCreateAttempts bounds restarts after the store reports a slug conflict
// that the in-process lock could not see (another process won the race).
const maxCreateAttempts = 5

// Resolver is safe for concurrent use. Team creation is serialized per city.
type Resolver struct {
	reg store.Registry
	log logger.Logger

	mu    sync.Mutex
	locks map[int]*cityState

	newID     func() string
	onCreated func()
}

type Option func(*Resolver)

// WithCreatedHook registers fn to run after each team creation.
func WithCreatedHook(fn func()) Option {
	return func(r *Resolver) { r.onCreated = fn }
}

func NewResolver(reg store.Registry, log logger.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	r := &Resolver{
		reg:   reg,
		log:   log.Named("teams"),
		locks: map[int]*cityState{},
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// cityState guards team creation in one city. created holds the teams this
// resolver saved, keyed by normalized name; the store's name lookup may lag
// behind its writes.
type cityState struct {
	sync.Mutex
	created map[string]model.Team
}

func (r *Resolver) city(cityID int) *cityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.locks[cityID]
	if !ok {
		cs = &cityState{created: map[string]model.Team{}}
		r.locks[cityID] = cs
	}
	return cs
}

// Resolve returns the team called name in city, creating it when missing.
// An existing team is returned as stored. rankImageURL marks a new team's
// rank history as inconsistent when it matches one of ranks.
func (r *Resolver) Resolve(ctx context.Context, name string, city model.City, rankImageURL string, ranks []model.RankMapping) (model.Team, error) {
	name = model.NormalizeName(name)
	if name == "" {
		return model.Team{}, errors.New("teams: empty team name")
	}

	t, err := r.reg.FindTeamByNameAndCity(ctx, name, city.ID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Team{}, fmt.Errorf("find team %q: %w", name, err)
	}

	cs := r.city(city.ID)
	cs.Lock()
	defer cs.Unlock()

	// another goroutine may have created it while we waited
	if t, ok := cs.created[name]; ok {
		return t, nil
	}
	t, err = r.reg.FindTeamByNameAndCity(ctx, name, city.ID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Team{}, fmt.Errorf("find team %q: %w", name, err)
	}

	_, ranked := model.FindRank(ranks, rankImageURL)

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		s, err := r.freeSlug(ctx, name, city.ID)
		if err != nil {
			return model.Team{}, err
		}
		team := model.Team{
			ID:               r.newID(),
			CityID:           city.ID,
			Name:             name,
			Slug:             s,
			InconsistentRank: ranked,
		}
		err = r.reg.SaveTeam(ctx, team)
		if err == nil {
			cs.created[name] = team
			r.log.Debug(ctx, "team created",
				logger.String("team_id", team.ID),
				logger.String("slug", team.Slug),
				logger.Int("city_id", city.ID))
			if r.onCreated != nil {
				r.onCreated()
			}
			return team, nil
		}
		if !errors.Is(err, store.ErrSlugTaken) {
			return model.Team{}, fmt.Errorf("save team %q: %w", name, err)
		}
		r.log.Warn(ctx, "slug taken on save, retrying",
			logger.String("slug", s), logger.Int("city_id", city.ID), logger.Int("attempt", attempt+1))
	}
	return model.Team{}, fmt.Errorf("save team %q: %w after %d attempts", name, store.ErrSlugTaken, maxCreateAttempts)
}

// freeSlug probes base, base-1, base-2, ... until one is unused in the city.
func (r *Resolver) freeSlug(ctx context.Context, name string, cityID int) (string, error) {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		base := slug.Generate(name)
		if base == "" {
			base = fallbackSlug
		}
		candidate := slug.WithSuffix(base, n)
		_, err := r.reg.FindTeamBySlugAndCity(ctx, candidate, cityID)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("find slug %q: %w", candidate, err)
		}
	}
}
