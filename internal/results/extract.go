package results

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tyler180/quiz-results/internal/model"
	"github.com/tyler180/quiz-results/internal/store"
	"github.com/tyler180/quiz-results/pkg/logger"
)

var (
	reLeadingFloat = regexp.MustCompile(`^[-+]?(\d+(\.\d*)?|\.\d+)`)
	reLeadingInt   = regexp.MustCompile(`^[-+]?\d+`)
	stripSpaces    = strings.NewReplacer(" ", "", "\u00A0", "", "\u2009", "", "\u202F", "", "\t", "", "\n", "")
)

// ParseScore reads the leading decimal number of a cell, accepting a comma
// decimal separator. Anything unparsable is 0.
func ParseScore(s string) float64 {
	s = stripSpaces.Replace(strings.TrimSpace(s))
	s = strings.Replace(s, ",", ".", 1)
	m := reLeadingFloat.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParsePlace reads the leading integer of a cell ("3", "3.", "3-4").
// Anything unparsable is 0.
func ParsePlace(s string) int {
	s = stripSpaces.Replace(strings.TrimSpace(s))
	m := reLeadingInt.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// TeamResolver finds or creates the team a row belongs to.
type TeamResolver interface {
	Resolve(ctx context.Context, name string, city model.City, rankImageURL string, ranks []model.RankMapping) (model.Team, error)
}

// CityFinder looks up a city by its display name.
type CityFinder interface {
	FindCityByName(ctx context.Context, name string) (model.City, error)
}

type rowCells []*goquery.Selection

func (c rowCells) text(i int) string {
	if i < 0 || i >= len(c) {
		return ""
	}
	return strings.TrimSpace(c[i].Text())
}

func (c rowCells) imgSrc(i int) string {
	if i < 0 || i >= len(c) {
		return ""
	}
	return strings.TrimSpace(c[i].Find("img").First().AttrOr("src", ""))
}

// extractor turns body rows of one table into results for one game.
type extractor struct {
	cities   CityFinder
	resolver TeamResolver
	log      logger.Logger
	obs      Observer
	newID    func() string
}

func (x *extractor) extract(ctx context.Context, t Table, cols ColumnMap, gameID int, city model.City, ranks []model.RankMapping) []model.GameResult {
	out := make([]model.GameResult, 0, 32)

	t.BodyRows().Each(func(i int, tr *goquery.Selection) {
		if tr.ChildrenFiltered("td").Length() == 0 {
			return
		}
		var cells rowCells
		tr.ChildrenFiltered("th,td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, c)
		})

		name := model.NormalizeName(cells.text(cols.Team))
		if name == "" {
			x.log.Warn(ctx, "row without team name skipped", logger.Int("game_id", gameID), logger.Int("row", i))
			x.obs.RowSkipped("no_team_name")
			return
		}

		teamCity := x.teamCity(ctx, cells.text(cols.TeamCity), city, gameID, name)
		rankSrc := cells.imgSrc(cols.Rank)

		team, err := x.resolver.Resolve(ctx, name, teamCity, rankSrc, ranks)
		if err != nil {
			x.log.Warn(ctx, "team resolution failed, row skipped",
				logger.Int("game_id", gameID), logger.String("team", name), logger.Error(err))
			x.obs.RowSkipped("team_resolution")
			return
		}

		rounds := make([]float64, len(cols.Rounds))
		for j, idx := range cols.Rounds {
			rounds[j] = ParseScore(cells.text(idx))
		}
		total := ParseScore(cells.text(cols.Total))

		place := 0
		if cols.Place >= 0 {
			place = ParsePlace(cells.text(cols.Place))
		}

		var rankID *string
		if r, ok := model.FindRank(ranks, rankSrc); ok {
			id := r.ID
			rankID = &id
		}

		res := model.GameResult{
			ID:        x.newID(),
			GameID:    gameID,
			TeamID:    team.ID,
			Rounds:    rounds,
			Sum:       total,
			Place:     place,
			RankID:    rankID,
			HasErrors: model.HasDiscrepancy(rounds, total),
		}
		if res.HasErrors {
			x.log.Debug(ctx, "round sum disagrees with total",
				logger.Int("game_id", gameID), logger.String("team", name),
				logger.Float64("rounds_sum", model.RoundsSum(rounds)), logger.Float64("total", total))
		}
		out = append(out, res)
	})
	return out
}

// teamCity resolves the row's own city, falling back to the game's city.
func (x *extractor) teamCity(ctx context.Context, cityName string, gameCity model.City, gameID int, team string) model.City {
	if cityName == "" {
		return gameCity
	}
	c, err := x.cities.FindCityByName(ctx, cityName)
	if err == nil {
		return c
	}
	if !errors.Is(err, store.ErrNotFound) {
		x.log.Warn(ctx, "city lookup failed, using game city",
			logger.Int("game_id", gameID), logger.String("team", team), logger.String("team_city", cityName), logger.Error(err))
		return gameCity
	}
	x.log.Warn(ctx, "unknown team city, using game city",
		logger.Int("game_id", gameID), logger.String("team", team), logger.String("team_city", cityName))
	return gameCity
}
