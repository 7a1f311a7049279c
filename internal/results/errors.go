package results

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler180/quiz-results/internal/columns"
)

var (
	// ErrNoResultsTable means no table on the page has a team or round header.
	ErrNoResultsTable = errors.New("results: no results table")
	// ErrMissingRequiredColumn means the located table lacks team, round or total columns.
	ErrMissingRequiredColumn = errors.New("results: missing required column")
)

// MissingColumnError lists the required roles a located table lacks.
type MissingColumnError struct {
	Roles []columns.Role
}

func (e *MissingColumnError) Error() string {
	names := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		names[i] = r.String()
	}
	return fmt.Sprintf("%v: %s", ErrMissingRequiredColumn, strings.Join(names, ", "))
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingRequiredColumn }
