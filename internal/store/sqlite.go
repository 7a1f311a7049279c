package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tyler180/quiz-results/internal/model"
)

// SQLite is a single-file Storage for local runs.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; keeps the per-city resolver lock meaningful under SQLite
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cities (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            slug TEXT NOT NULL,
            timezone TEXT,
            last_game_id INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS teams (
            id TEXT PRIMARY KEY,
            city_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            name_key TEXT NOT NULL,
            slug TEXT NOT NULL,
            previous_team_id TEXT,
            inconsistent_rank INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_teams_city_slug ON teams(city_id, slug);`,
		`CREATE INDEX IF NOT EXISTS idx_teams_city_name ON teams(city_id, name_key);`,
		`CREATE TABLE IF NOT EXISTS rank_mappings (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            image_urls_json TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS games (
            id INTEGER PRIMARY KEY,
            city_id INTEGER NOT NULL,
            series_id TEXT,
            number TEXT,
            date TIMESTAMP,
            price REAL,
            location TEXT,
            address TEXT,
            is_stream INTEGER NOT NULL DEFAULT 0,
            processed INTEGER NOT NULL DEFAULT 0,
            processed_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS game_results (
            id TEXT PRIMARY KEY,
            game_id INTEGER NOT NULL,
            team_id TEXT NOT NULL,
            rounds_json TEXT NOT NULL,
            sum REAL NOT NULL,
            place INTEGER NOT NULL,
            rank_id TEXT,
            has_errors INTEGER NOT NULL DEFAULT 0,
            created_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_results_game ON game_results(game_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// isSlugConflict reports a violation of idx_teams_city_slug. Other unique
// failures, such as a duplicate team id, are not slug conflicts.
func isSlugConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(se.Error(), "teams.slug")
}

// PutCity inserts or replaces a city row.
func (s *SQLite) PutCity(ctx context.Context, c model.City) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cities(id, name, slug, timezone, last_game_id) VALUES(?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET name=excluded.name, slug=excluded.slug, timezone=excluded.timezone, last_game_id=excluded.last_game_id`,
		c.ID, c.Name, c.Slug, c.Timezone, c.LastGameID)
	return err
}

// PutGame inserts or replaces a game row.
func (s *SQLite) PutGame(ctx context.Context, g model.Game) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO games(id, city_id, series_id, number, date, price, location, address, is_stream, processed)
        VALUES(?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET city_id=excluded.city_id, series_id=excluded.series_id, number=excluded.number, date=excluded.date,
            price=excluded.price, location=excluded.location, address=excluded.address, is_stream=excluded.is_stream, processed=excluded.processed`,
		g.ID, g.CityID, g.SeriesID, g.Number, g.Date, g.Price, g.Location, g.Address, g.IsStream, g.Processed)
	return err
}

// PutRankMapping inserts or replaces a rank row.
func (s *SQLite) PutRankMapping(ctx context.Context, r model.RankMapping) error {
	urls, err := json.Marshal(r.ImageURLs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO rank_mappings(id, name, image_urls_json) VALUES(?,?,?)
        ON CONFLICT(id) DO UPDATE SET name=excluded.name, image_urls_json=excluded.image_urls_json`, r.ID, r.Name, string(urls))
	return err
}

func (s *SQLite) FindCityByName(ctx context.Context, name string) (model.City, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.City{}, ErrNotFound
	}
	// SQLite lower() only folds ASCII; compare in Go.
	cities, err := s.Cities(ctx)
	if err != nil {
		return model.City{}, err
	}
	for _, c := range cities {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return model.City{}, ErrNotFound
}

const teamColumns = `id, city_id, name, slug, previous_team_id, inconsistent_rank`

func scanTeam(row *sql.Row) (model.Team, error) {
	var t model.Team
	var prev sql.NullString
	err := row.Scan(&t.ID, &t.CityID, &t.Name, &t.Slug, &prev, &t.InconsistentRank)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Team{}, ErrNotFound
	}
	if err != nil {
		return model.Team{}, err
	}
	if prev.Valid {
		t.PreviousTeamID = &prev.String
	}
	return t, nil
}

func (s *SQLite) FindTeamByNameAndCity(ctx context.Context, name string, cityID int) (model.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE city_id = ? AND name_key = ? LIMIT 1`, cityID, model.NormalizeName(name)))
}

func (s *SQLite) FindTeamBySlugAndCity(ctx context.Context, slug string, cityID int) (model.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE city_id = ? AND slug = ?`, cityID, slug))
}

func (s *SQLite) SaveTeam(ctx context.Context, t model.Team) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO teams(id, city_id, name, name_key, slug, previous_team_id, inconsistent_rank) VALUES(?,?,?,?,?,?,?)`,
		t.ID, t.CityID, t.Name, model.NormalizeName(t.Name), t.Slug, t.PreviousTeamID, t.InconsistentRank)
	if isSlugConflict(err) {
		return ErrSlugTaken
	}
	return err
}

func (s *SQLite) SaveResults(ctx context.Context, results []model.GameResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO game_results(id, game_id, team_id, rounds_json, sum, place, rank_id, has_errors, created_at)
        VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range results {
		rounds, err := json.Marshal(r.Rounds)
		if err != nil {
			return fmt.Errorf("encode rounds for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.GameID, r.TeamID, string(rounds), r.Sum, r.Place, r.RankID, r.HasErrors, now); err != nil {
			return fmt.Errorf("insert result %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ResultsForGame returns the stored results of one game ordered by place.
func (s *SQLite) ResultsForGame(ctx context.Context, gameID int) ([]model.GameResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, game_id, team_id, rounds_json, sum, place, rank_id, has_errors
        FROM game_results WHERE game_id = ? ORDER BY place, id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GameResult
	for rows.Next() {
		var r model.GameResult
		var rounds string
		var rank sql.NullString
		if err := rows.Scan(&r.ID, &r.GameID, &r.TeamID, &rounds, &r.Sum, &r.Place, &rank, &r.HasErrors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rounds), &r.Rounds); err != nil {
			return nil, fmt.Errorf("decode rounds for %s: %w", r.ID, err)
		}
		if rank.Valid {
			r.RankID = &rank.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Cities(ctx context.Context) ([]model.City, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug, timezone, last_game_id FROM cities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.City
	for rows.Next() {
		var c model.City
		var tz sql.NullString
		var last sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &tz, &last); err != nil {
			return nil, err
		}
		c.Timezone = tz.String
		if last.Valid {
			v := int(last.Int64)
			c.LastGameID = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) RankMappings(ctx context.Context) ([]model.RankMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, image_urls_json FROM rank_mappings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RankMapping
	for rows.Next() {
		var r model.RankMapping
		var urls string
		if err := rows.Scan(&r.ID, &r.Name, &urls); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(urls), &r.ImageURLs); err != nil {
			return nil, fmt.Errorf("decode rank %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) GamesWithoutResults(ctx context.Context) ([]model.Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, city_id, series_id, number, date, price, location, address, is_stream, processed
        FROM games WHERE processed = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Game
	for rows.Next() {
		var g model.Game
		var series, number, location, address sql.NullString
		var date sql.NullTime
		var price sql.NullFloat64
		if err := rows.Scan(&g.ID, &g.CityID, &series, &number, &date, &price, &location, &address, &g.IsStream, &g.Processed); err != nil {
			return nil, err
		}
		g.SeriesID, g.Number, g.Location, g.Address = series.String, number.String, location.String, address.String
		g.Date, g.Price = date.Time, price.Float64
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkGameAsProcessed(ctx context.Context, gameID int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE games SET processed = 1, processed_at = ? WHERE id = ?`, time.Now().UTC(), gameID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
