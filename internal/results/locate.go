package results

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tyler180/quiz-results/internal/columns"
)

// ColumnMap holds header-derived cell indexes. Optional roles are -1 when
// absent; Rounds is in left-to-right order.
type ColumnMap struct {
	Team     int
	Rounds   []int
	Total    int
	Place    int
	TeamCity int
	Rank     int
}

// Table is a located results table and its header row.
type Table struct {
	Sel    *goquery.Selection
	Header *goquery.Selection
}

// sectionRows returns the rows directly under the table's own section
// elements, never those of a nested table.
func sectionRows(table *goquery.Selection, section string) *goquery.Selection {
	return table.ChildrenFiltered(section).ChildrenFiltered("tr")
}

// headerRow is the first thead row, or the first row of the table when the
// page has no thead. The parser wraps bare rows in a tbody.
func headerRow(table *goquery.Selection) *goquery.Selection {
	if tr := sectionRows(table, "thead").First(); tr.Length() > 0 {
		return tr
	}
	return sectionRows(table, "tbody").First()
}

// BodyRows returns the tbody rows, minus the header row when the table has
// no thead. Extra thead rows, tfoot rows and nested tables are left out.
func (t Table) BodyRows() *goquery.Selection {
	return sectionRows(t.Sel, "tbody").NotSelection(t.Header)
}

// FindResultsTable returns the first table whose header row has a cell that
// looks like a team or round column.
func FindResultsTable(doc *goquery.Document) (Table, error) {
	var found Table
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		hdr := headerRow(table)
		match := false
		hdr.Find("th,td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			txt := cell.Text()
			match = columns.FindColumn(columns.RoleTeam, txt) || columns.FindColumn(columns.RoleRound, txt)
			return !match
		})
		if match {
			found = Table{Sel: table, Header: hdr}
			return false
		}
		return true
	})
	if found.Sel == nil {
		return Table{}, ErrNoResultsTable
	}
	return found, nil
}

// MapColumns classifies every header cell. When several cells share a
// single-valued role the first one wins. An unlabeled first column is taken
// as the place column when no header names one.
func MapColumns(header *goquery.Selection) (ColumnMap, error) {
	m := ColumnMap{Team: -1, Total: -1, Place: -1, TeamCity: -1, Rank: -1}
	firstBlank := false

	header.Find("th,td").Each(func(i int, cell *goquery.Selection) {
		txt := cell.Text()
		if i == 0 && strings.TrimSpace(txt) == "" {
			firstBlank = true
		}
		role, ok := columns.Classify(txt)
		if !ok {
			return
		}
		switch role {
		case columns.RoleTeam:
			setOnce(&m.Team, i)
		case columns.RoleRound:
			m.Rounds = append(m.Rounds, i)
		case columns.RoleTotal:
			setOnce(&m.Total, i)
		case columns.RolePlace:
			setOnce(&m.Place, i)
		case columns.RoleTeamCity:
			setOnce(&m.TeamCity, i)
		case columns.RoleRank:
			setOnce(&m.Rank, i)
		}
	})

	if m.Place < 0 && firstBlank {
		m.Place = 0
	}

	var missing []columns.Role
	if m.Team < 0 {
		missing = append(missing, columns.RoleTeam)
	}
	if len(m.Rounds) == 0 {
		missing = append(missing, columns.RoleRound)
	}
	if m.Total < 0 {
		missing = append(missing, columns.RoleTotal)
	}
	if len(missing) > 0 {
		return m, &MissingColumnError{Roles: missing}
	}
	return m, nil
}

func setOnce(dst *int, i int) {
	if *dst < 0 {
		*dst = i
	}
}
