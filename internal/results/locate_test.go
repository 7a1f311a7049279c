package results

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/tyler180/quiz-results/internal/columns"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestFindResultsTable_SkipsUnrelatedTables(t *testing.T) {
	doc := mustDoc(t, `<html><body>
<table id="schedule"><thead><tr><td>Дата</td><td>Адрес</td></tr></thead></table>
<table id="results"><thead><tr><td></td><td>Название команды</td><td>1 раунд</td><td>Итого</td></tr></thead>
<tbody><tr><td>1</td><td>A</td><td>1</td><td>1</td></tr></tbody></table>
</body></html>`)

	tbl, err := FindResultsTable(doc)
	if err != nil {
		t.Fatalf("FindResultsTable: %v", err)
	}
	if id, _ := tbl.Sel.Attr("id"); id != "results" {
		t.Fatalf("picked table %q", id)
	}
	if n := tbl.BodyRows().Length(); n != 1 {
		t.Fatalf("expected 1 body row, got %d", n)
	}
}

func TestFindResultsTable_HeaderWithoutThead(t *testing.T) {
	doc := mustDoc(t, `<table><tr><th>#</th><th>Team</th><th>Round 1</th><th>Round 2</th><th>Total</th></tr>
<tr><td>1</td><td>A</td><td>1</td><td>2</td><td>3</td></tr>
<tr><td>2</td><td>B</td><td>1</td><td>1</td><td>2</td></tr></table>`)

	tbl, err := FindResultsTable(doc)
	if err != nil {
		t.Fatalf("FindResultsTable: %v", err)
	}
	if n := tbl.BodyRows().Length(); n != 2 {
		t.Fatalf("header row must not be a body row; got %d rows", n)
	}
	cols, err := MapColumns(tbl.Header)
	if err != nil {
		t.Fatalf("MapColumns: %v", err)
	}
	if cols.Place != 0 || cols.Team != 1 || cols.Total != 4 {
		t.Fatalf("unexpected map %+v", cols)
	}
}

func TestBodyRows_OnlyTbodyRows(t *testing.T) {
	doc := mustDoc(t, `<table>
<thead><tr><td></td><td>Команда</td><td>1 раунд</td><td>Итого</td></tr>
<tr><td></td><td>max</td><td>10</td><td>10</td></tr></thead>
<tbody><tr><td>1</td><td>Quiz Please<table><tr><td>Состав</td></tr></table></td><td>8</td><td>8</td></tr></tbody>
<tfoot><tr><td></td><td>Среднее</td><td>6</td><td>6</td></tr></tfoot>
</table>`)

	tbl, err := FindResultsTable(doc)
	if err != nil {
		t.Fatalf("FindResultsTable: %v", err)
	}
	rows := tbl.BodyRows()
	if n := rows.Length(); n != 1 {
		t.Fatalf("expected 1 body row, got %d", n)
	}
	if !strings.HasPrefix(rows.First().Children().Eq(1).Text(), "Quiz Please") {
		t.Fatalf("unexpected row %q", rows.First().Text())
	}
}

func TestFindResultsTable_None(t *testing.T) {
	doc := mustDoc(t, `<p>Игра ещё не прошла</p><table><tr><td>foo</td><td>bar</td></tr></table>`)
	if _, err := FindResultsTable(doc); !errors.Is(err, ErrNoResultsTable) {
		t.Fatalf("expected ErrNoResultsTable, got %v", err)
	}
}

func TestMapColumns(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   ColumnMap
	}{
		{
			name:   "blank first cell is place",
			header: `<td></td><td>Team</td><td>R1</td><td>R2</td><td>Total</td>`,
			want:   ColumnMap{Team: 1, Rounds: []int{2, 3}, Total: 4, Place: 0, TeamCity: -1, Rank: -1},
		},
		{
			name:   "russian with all optional roles",
			header: `<td>Место</td><td>Ранг</td><td>Команда</td><td>Город</td><td>Тур 1</td><td>Тур 2</td><td>Тур 3</td><td>Сумма</td>`,
			want:   ColumnMap{Place: 0, Rank: 1, Team: 2, TeamCity: 3, Rounds: []int{4, 5, 6}, Total: 7},
		},
		{
			name:   "rounds keep left to right order around other columns",
			header: `<td>1</td><td>Team</td><td>2</td><td>Points</td><td>3</td>`,
			want:   ColumnMap{Team: 1, Rounds: []int{0, 2, 4}, Total: 3, Place: -1, TeamCity: -1, Rank: -1},
		},
		{
			name:   "first team column wins",
			header: `<td>Команда</td><td>Название</td><td>R1</td><td>Итого</td>`,
			want:   ColumnMap{Team: 0, Rounds: []int{2}, Total: 3, Place: -1, TeamCity: -1, Rank: -1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := mustDoc(t, `<table><thead><tr>`+tc.header+`</tr></thead></table>`)
			got, err := MapColumns(doc.Find("thead tr").First())
			if err != nil {
				t.Fatalf("MapColumns: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestMapColumns_MissingRequired(t *testing.T) {
	doc := mustDoc(t, `<table><thead><tr><td>Команда</td><td>Место</td></tr></thead></table>`)
	_, err := MapColumns(doc.Find("thead tr").First())
	if !errors.Is(err, ErrMissingRequiredColumn) {
		t.Fatalf("expected ErrMissingRequiredColumn, got %v", err)
	}
	var mce *MissingColumnError
	if !errors.As(err, &mce) {
		t.Fatalf("expected *MissingColumnError, got %T", err)
	}
	if !reflect.DeepEqual(mce.Roles, []columns.Role{columns.RoleRound, columns.RoleTotal}) {
		t.Fatalf("unexpected missing roles %v", mce.Roles)
	}
}
