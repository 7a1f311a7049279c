// Package columns classifies results-table header cells into column roles.
//
// Each role owns a Matcher made of literal tokens and regexp patterns. The
// header text is normalized before matching, so tokens are written in lower
// case without trailing punctuation. Adding a language is one registry entry.
package columns

import (
	"regexp"
	"strings"
)

type Role int

const (
	RoleTeam Role = iota
	RoleRound
	RoleTotal
	RolePlace
	RoleTeamCity
	RoleRank
)

func (r Role) String() string {
	switch r {
	case RoleTeam:
		return "team"
	case RoleRound:
		return "round"
	case RoleTotal:
		return "total"
	case RolePlace:
		return "place"
	case RoleTeamCity:
		return "team_city"
	case RoleRank:
		return "rank"
	}
	return "unknown"
}

// Order is the precedence used by Classify when several roles could match.
var Order = []Role{RoleTeam, RoleRound, RoleTotal, RolePlace, RoleTeamCity, RoleRank}

type Matcher struct {
	Literals []string
	Patterns []*regexp.Regexp
}

func (m Matcher) match(s string) bool {
	for _, l := range m.Literals {
		if s == l {
			return true
		}
	}
	for _, p := range m.Patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

var registry = map[Role]Matcher{
	RoleTeam: {
		Literals: []string{
			"команда", "название команды", "название", "команды",
			"team", "team name", "name", "teams",
		},
	},
	RoleRound: {
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(раунд|тур|round|rd|r)\s*№?\s*\d{1,2}$`),
			regexp.MustCompile(`^\d{1,2}\s*-?\s*(й|ый|ой|ий)?\s*(раунд|тур|round|rd)$`),
			regexp.MustCompile(`^\d{1,2}(st|nd|rd|th)\s+round$`),
			regexp.MustCompile(`^[1-9]\d?$`),
		},
	},
	RoleTotal: {
		Literals: []string{
			"итого", "итог", "сумма", "всего", "баллы", "очки",
			"total", "sum", "overall", "points", "score", "pts",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(итого|итог|сумма|всего|total|sum|overall)\s+(баллов|балла|баллы|очков|очки|points|score|pts)$`),
		},
	},
	RolePlace: {
		Literals: []string{
			"место", "м", "№",
			"place", "pos", "position", "#",
		},
	},
	RoleTeamCity: {
		Literals: []string{
			"город", "город команды",
			"city", "team city", "town",
		},
	},
	RoleRank: {
		Literals: []string{
			"ранг", "звание", "уровень",
			"rank", "title", "level",
		},
	},
}

// Normalize trims, lower-cases and collapses whitespace in header text.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimSpace(strings.TrimRight(s, ":."))
}

// FindColumn reports whether header text belongs to role. Blank text never
// matches.
func FindColumn(role Role, header string) bool {
	s := Normalize(header)
	if s == "" {
		return false
	}
	m, ok := registry[role]
	if !ok {
		return false
	}
	return m.match(s)
}

// Classify returns the first role in Order that matches header.
func Classify(header string) (Role, bool) {
	for _, r := range Order {
		if FindColumn(r, header) {
			return r, true
		}
	}
	return 0, false
}
