package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gatherstone/venuescout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS venues (
	id               TEXT PRIMARY KEY,
	external_id      TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	homepage         TEXT NOT NULL DEFAULT '',
	lat              REAL NOT NULL DEFAULT 0,
	lon              REAL NOT NULL DEFAULT 0,
	tags             TEXT NOT NULL DEFAULT '{}',
	prevet_status    TEXT NOT NULL DEFAULT 'pending',
	matched_keywords TEXT,
	prevetted_at     DATETIME,
	document         TEXT NOT NULL DEFAULT '',
	enrichment       TEXT NOT NULL DEFAULT '{}',
	images           TEXT NOT NULL DEFAULT '{}',
	active           INTEGER NOT NULL DEFAULT 1,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tiles (
	key          TEXT PRIMARY KEY,
	venue_count  INTEGER NOT NULL DEFAULT 0,
	collected_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	failed_stage TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at  DATETIME
);

CREATE TABLE IF NOT EXISTS processing_errors (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	venue_id    TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	occurred_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_venues_prevet_status ON venues(prevet_status);
CREATE INDEX IF NOT EXISTS idx_venues_external_id ON venues(external_id);
CREATE INDEX IF NOT EXISTS idx_processing_errors_run_id ON processing_errors(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertVenue(ctx context.Context, v *model.Venue) (*model.Venue, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tagsJSON, err := json.Marshal(v.Tags)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal tags")
	}
	enrichJSON, err := json.Marshal(model.DefaultEnrichment())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal enrichment")
	}

	// Identity fields refresh on conflict; pipeline state (prevet status,
	// document, enrichment, images) is preserved.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO venues (id, external_id, name, homepage, lat, lon, tags, prevet_status, enrichment, images, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', 1, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			name       = excluded.name,
			homepage   = excluded.homepage,
			lat        = excluded.lat,
			lon        = excluded.lon,
			tags       = excluded.tags,
			active     = 1,
			updated_at = excluded.updated_at`,
		id, v.ExternalID, v.Name, v.Homepage, v.Point.Lat, v.Point.Lon,
		string(tagsJSON), string(model.PrevetPending), string(enrichJSON), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert venue %s", v.ExternalID)
	}

	row := s.db.QueryRowContext(ctx, selectVenue+` WHERE external_id = ?`, v.ExternalID)
	return scanVenue(row)
}

const selectVenue = `SELECT id, external_id, name, homepage, lat, lon, tags,
	prevet_status, matched_keywords, prevetted_at, document, enrichment, images,
	active, updated_at FROM venues`

func (s *SQLiteStore) GetVenue(ctx context.Context, id string) (*model.Venue, error) {
	row := s.db.QueryRowContext(ctx, selectVenue+` WHERE id = ?`, id)
	return scanVenue(row)
}

func (s *SQLiteStore) ListVenues(ctx context.Context, filter VenueFilter) ([]model.Venue, error) {
	query := selectVenue + ` WHERE 1=1`
	var args []any

	if filter.PrevetStatus != "" {
		query += ` AND prevet_status = ?`
		args = append(args, string(filter.PrevetStatus))
	}
	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY external_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list venues")
	}
	defer rows.Close()

	var venues []model.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		venues = append(venues, *v)
	}
	return venues, eris.Wrap(rows.Err(), "sqlite: list venues iterate")
}

func (s *SQLiteStore) SetPrevet(ctx context.Context, id string, status model.PrevetStatus, keywords []string) error {
	var kwJSON any
	if len(keywords) > 0 {
		b, err := json.Marshal(keywords)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal keywords")
		}
		kwJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET prevet_status = ?, matched_keywords = ?, prevetted_at = ?, updated_at = ? WHERE id = ?`,
		string(status), kwJSON, time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set prevet %s", id)
	}
	return checkRowsAffected(res, "venue", id)
}

func (s *SQLiteStore) SetDocument(ctx context.Context, id string, doc string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET document = ?, updated_at = ? WHERE id = ?`,
		doc, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set document %s", id)
	}
	return checkRowsAffected(res, "venue", id)
}

func (s *SQLiteStore) SetEnrichment(ctx context.Context, id string, e model.Enrichment) error {
	b, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET enrichment = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set enrichment %s", id)
	}
	return checkRowsAffected(res, "venue", id)
}

func (s *SQLiteStore) SetImageManifest(ctx context.Context, id string, m model.ImageManifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal image manifest")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET images = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set image manifest %s", id)
	}
	return checkRowsAffected(res, "venue", id)
}

func (s *SQLiteStore) HasTile(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tiles WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has tile %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) RecordTile(ctx context.Context, key string, venueCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tiles (key, venue_count, collected_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, venueCount, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record tile %s", key)
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.PipelineRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.PipelineRun{ID: id, Status: model.RunRunning, StartedAt: now}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, failedStage, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, failed_stage = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), failedStage, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) AppendError(ctx context.Context, pe model.ProcessingError) error {
	id := pe.ID
	if id == "" {
		id = uuid.New().String()
	}
	at := pe.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_errors (id, run_id, stage, venue_id, message, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, pe.RunID, pe.Stage, pe.VenueID, pe.Message, at,
	)
	return eris.Wrap(err, "sqlite: append processing error")
}

func (s *SQLiteStore) ListErrors(ctx context.Context, runID string) ([]model.ProcessingError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, venue_id, message, occurred_at FROM processing_errors
		 WHERE run_id = ? ORDER BY occurred_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processing errors")
	}
	defer rows.Close()

	var errs []model.ProcessingError
	for rows.Next() {
		var pe model.ProcessingError
		if err := rows.Scan(&pe.ID, &pe.RunID, &pe.Stage, &pe.VenueID, &pe.Message, &pe.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processing error")
		}
		errs = append(errs, pe)
	}
	return errs, eris.Wrap(rows.Err(), "sqlite: list processing errors iterate")
}

func (s *SQLiteStore) Count(ctx context.Context) (*Counts, error) {
	c := &Counts{Prevet: make(map[model.PrevetStatus]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM venues`).Scan(&c.Venues); err != nil {
		return nil, eris.Wrap(err, "sqlite: count venues")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tiles`).Scan(&c.Tiles); err != nil {
		return nil, eris.Wrap(err, "sqlite: count tiles")
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM venues WHERE json_extract(enrichment, '$.extracted_at') IS NOT NULL`,
	).Scan(&c.Enriched); err != nil {
		return nil, eris.Wrap(err, "sqlite: count enriched")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT prevet_status, count(*) FROM venues GROUP BY prevet_status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count prevet")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prevet count")
		}
		c.Prevet[model.PrevetStatus(status)] = n
	}
	return c, eris.Wrap(rows.Err(), "sqlite: count prevet iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVenue(row scannable) (*model.Venue, error) {
	var v model.Venue
	var tagsJSON, enrichJSON, imagesJSON string
	var kwJSON sql.NullString
	var prevettedAt sql.NullTime
	var status string

	err := row.Scan(&v.ID, &v.ExternalID, &v.Name, &v.Homepage, &v.Point.Lat, &v.Point.Lon,
		&tagsJSON, &status, &kwJSON, &prevettedAt, &v.Document, &enrichJSON, &imagesJSON,
		&v.Active, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("venue not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan venue")
	}

	v.PrevetStatus = model.PrevetStatus(status)
	if err := json.Unmarshal([]byte(tagsJSON), &v.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if err := json.Unmarshal([]byte(enrichJSON), &v.Enrichment); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal enrichment")
	}
	if err := json.Unmarshal([]byte(imagesJSON), &v.Images); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal images")
	}
	if kwJSON.Valid {
		if err := json.Unmarshal([]byte(kwJSON.String), &v.MatchedKeywords); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
		}
	}
	if prevettedAt.Valid {
		t := prevettedAt.Time
		v.PrevettedAt = &t
	}
	return &v, nil
}
