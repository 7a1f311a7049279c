package model

import (
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DiscrepancyTolerance is the largest accepted gap between the sum of round
// scores and the total shown on the page.
const DiscrepancyTolerance = 0.01

type City struct {
	ID         int    `json:"_id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Timezone   string `json:"timezone"`
	LastGameID *int   `json:"last_game_id,omitempty"`
}

type Team struct {
	ID               string  `json:"_id"`
	CityID           int     `json:"city_id"`
	Name             string  `json:"name"`
	Slug             string  `json:"slug"`
	PreviousTeamID   *string `json:"previous_team_id,omitempty"`
	InconsistentRank bool    `json:"inconsistent_rank"`
}

type RankMapping struct {
	ID        string   `json:"_id"`
	Name      string   `json:"name"`
	ImageURLs []string `json:"image_urls"`
}

// Matches reports whether src is one of the badge images of this rank.
func (r RankMapping) Matches(src string) bool {
	if src == "" {
		return false
	}
	for _, u := range r.ImageURLs {
		if u == src {
			return true
		}
	}
	return false
}

// FindRank returns the first mapping whose image set contains src.
func FindRank(ranks []RankMapping, src string) (RankMapping, bool) {
	for _, r := range ranks {
		if r.Matches(src) {
			return r, true
		}
	}
	return RankMapping{}, false
}

type Game struct {
	ID        int       `json:"_id"`
	CityID    int       `json:"city_id"`
	SeriesID  string    `json:"series_id"`
	Number    string    `json:"number"`
	Date      time.Time `json:"date"`
	Price     float64   `json:"price"`
	Location  string    `json:"location"`
	Address   string    `json:"address"`
	IsStream  bool      `json:"is_stream"`
	Processed bool      `json:"processed"`
}

type GameResult struct {
	ID        string    `json:"_id"`
	GameID    int       `json:"game_id"`
	TeamID    string    `json:"team_id"`
	Rounds    []float64 `json:"rounds"`
	Sum       float64   `json:"sum"`   // total as displayed on the page
	Place     int       `json:"place"` // 0 when the page has no usable place
	RankID    *string   `json:"rank_id,omitempty"`
	HasErrors bool      `json:"has_errors"`
}

// RoundsSum adds up the per-round scores.
func RoundsSum(rounds []float64) float64 {
	var s float64
	for _, r := range rounds {
		s += r
	}
	return s
}

// floatSlack absorbs binary rounding so that decimal inputs differing by
// exactly DiscrepancyTolerance (e.g. 8.5 vs 8.49) are not flagged.
const floatSlack = 1e-9

// HasDiscrepancy reports whether the computed round sum and the displayed
// total disagree by more than DiscrepancyTolerance.
func HasDiscrepancy(rounds []float64, total float64) bool {
	return math.Abs(RoundsSum(rounds)-total) > DiscrepancyTolerance+floatSlack
}

var wsRe = regexp.MustCompile(`\s+`)

// NormalizeName is the canonical form of a team display name used both for
// storage and for lookups.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.NewReplacer("\u00A0", " ", "\u2009", " ", "\u202F", " ").Replace(s)
	return wsRe.ReplaceAllString(strings.TrimSpace(s), " ")
}
