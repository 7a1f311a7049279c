package teams_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tyler180/quiz-results/internal/model"
	"github.com/tyler180/quiz-results/internal/store"
	"github.com/tyler180/quiz-results/internal/teams"
)

var (
	moscow = model.City{ID: 1, Name: "Москва", Slug: "moscow"}
	kazan  = model.City{ID: 2, Name: "Казань", Slug: "kazan"}
)

// racingRegistry simulates another process taking the slug between the
// probe and the save.
type racingRegistry struct {
	*store.Memory
	raced bool
}

func (r *racingRegistry) SaveTeam(ctx context.Context, t model.Team) error {
	if !r.raced {
		r.raced = true
		_ = r.Memory.SaveTeam(ctx, model.Team{ID: "intruder", CityID: t.CityID, Name: "Someone Else", Slug: t.Slug})
		return store.ErrSlugTaken
	}
	return r.Memory.SaveTeam(ctx, t)
}

// laggingRegistry never sees teams by name, like a store whose name index
// has not caught up with recent writes.
type laggingRegistry struct {
	*store.Memory
}

func (laggingRegistry) FindTeamByNameAndCity(context.Context, string, int) (model.Team, error) {
	return model.Team{}, store.ErrNotFound
}

func TestResolver(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		ctx := context.Background()
		mem := store.NewMemory()
		r := teams.NewResolver(mem, nil)

		Convey("When a new team is resolved", func() {
			team, err := r.Resolve(ctx, "  Квиз  Плиз ", moscow, "", nil)

			Convey("Then it is created with a normalized name and slug", func() {
				So(err, ShouldBeNil)
				So(team.ID, ShouldNotBeEmpty)
				So(team.Name, ShouldEqual, "Квиз Плиз")
				So(team.Slug, ShouldEqual, "quiz-please")
				So(team.CityID, ShouldEqual, 1)
				So(team.InconsistentRank, ShouldBeFalse)
			})

			Convey("Then resolving it again returns the stored team unchanged", func() {
				again, err := r.Resolve(ctx, "Квиз Плиз", moscow, "/img/x.png", nil)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, team)
				So(mem.Teams(), ShouldHaveLength, 1)
			})
		})

		Convey("When two different names share a slug in one city", func() {
			a, errA := r.Resolve(ctx, "Умники", moscow, "", nil)
			b, errB := r.Resolve(ctx, "Умники!", moscow, "", nil)
			c, errC := r.Resolve(ctx, "умники?", moscow, "", nil)

			Convey("Then numeric suffixes keep the slugs unique", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(errC, ShouldBeNil)
				So(a.Slug, ShouldEqual, "umniki")
				So(b.Slug, ShouldEqual, "umniki-1")
				So(c.Slug, ShouldEqual, "umniki-2")
			})
		})

		Convey("When the same name appears in two cities", func() {
			a, _ := r.Resolve(ctx, "Умники", moscow, "", nil)
			b, _ := r.Resolve(ctx, "Умники", kazan, "", nil)

			Convey("Then each city gets its own team with the base slug", func() {
				So(a.ID, ShouldNotEqual, b.ID)
				So(a.Slug, ShouldEqual, "umniki")
				So(b.Slug, ShouldEqual, "umniki")
			})
		})

		Convey("When the rank badge matches a known rank", func() {
			ranks := []model.RankMapping{{ID: "r1", Name: "Гуру", ImageURLs: []string{"/img/guru.png"}}}
			team, err := r.Resolve(ctx, "Gurus", moscow, "/img/guru.png", ranks)

			Convey("Then the new team is flagged with inconsistent rank history", func() {
				So(err, ShouldBeNil)
				So(team.InconsistentRank, ShouldBeTrue)
			})
		})

		Convey("When the name has no sluggable characters", func() {
			team, err := r.Resolve(ctx, "!!!", moscow, "", nil)

			Convey("Then the fallback slug is used", func() {
				So(err, ShouldBeNil)
				So(team.Slug, ShouldEqual, "team")
			})
		})

		Convey("When the name is blank", func() {
			_, err := r.Resolve(ctx, "   ", moscow, "", nil)

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When many goroutines resolve the same names concurrently", func() {
			var wg sync.WaitGroup
			names := []string{"Alpha", "Alpha!", "alpha?", "Beta"}
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = r.Resolve(ctx, names[i%len(names)], moscow, "", nil)
				}(i)
			}
			wg.Wait()

			Convey("Then each distinct name gets exactly one team with a unique slug", func() {
				all := mem.Teams()
				So(all, ShouldHaveLength, len(names))
				seen := map[string]bool{}
				for _, tm := range all {
					So(seen[tm.Slug], ShouldBeFalse)
					seen[tm.Slug] = true
				}
				So(seen["alpha"], ShouldBeTrue)
				So(seen["alpha-1"], ShouldBeTrue)
				So(seen["alpha-2"], ShouldBeTrue)
				So(seen["beta"], ShouldBeTrue)
			})
		})
	})

	Convey("Given a store that loses a slug race on save", t, func() {
		ctx := context.Background()
		reg := &racingRegistry{Memory: store.NewMemory()}
		r := teams.NewResolver(reg, nil)

		team, err := r.Resolve(ctx, "Racers", moscow, "", nil)

		Convey("Then the resolver retries with the next free suffix", func() {
			So(err, ShouldBeNil)
			So(team.Slug, ShouldEqual, "racers-1")
			So(reg.Teams(), ShouldHaveLength, 2)
		})
	})
}

func TestResolver_LaggingNameLookup(t *testing.T) {
	Convey("Given a store whose name lookup lags behind writes", t, func() {
		ctx := context.Background()
		reg := laggingRegistry{Memory: store.NewMemory()}
		r := teams.NewResolver(reg, nil)

		Convey("When games in one city resolve the same team concurrently", func() {
			const n = 16
			ids := make([]string, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					team, err := r.Resolve(ctx, "Erudites", moscow, "", nil)
					if err == nil {
						ids[i] = team.ID
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one team is created and shared", func() {
				So(reg.Teams(), ShouldHaveLength, 1)
				for _, id := range ids {
					So(id, ShouldEqual, reg.Teams()[0].ID)
				}
			})
		})

		Convey("When the same team shows up in another city", func() {
			a, errA := r.Resolve(ctx, "Erudites", moscow, "", nil)
			b, errB := r.Resolve(ctx, "Erudites", kazan, "", nil)

			Convey("Then each city gets its own team", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a.ID, ShouldNotEqual, b.ID)
				So(reg.Teams(), ShouldHaveLength, 2)
			})
		})
	})
}

func ExampleResolver_Resolve() {
	r := teams.NewResolver(store.NewMemory(), nil)
	a, _ := r.Resolve(context.Background(), "Brain Storm", moscow, "", nil)
	b, _ := r.Resolve(context.Background(), "Brain Storm!", moscow, "", nil)
	fmt.Println(a.Slug, b.Slug)
	// Output: brain-storm brain-storm-1
}
