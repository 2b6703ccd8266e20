package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gatherstone/venuescout/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock implements it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS venues (
	id               TEXT PRIMARY KEY,
	external_id      TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	homepage         TEXT NOT NULL DEFAULT '',
	lat              DOUBLE PRECISION NOT NULL DEFAULT 0,
	lon              DOUBLE PRECISION NOT NULL DEFAULT 0,
	tags             JSONB NOT NULL DEFAULT '{}',
	prevet_status    TEXT NOT NULL DEFAULT 'pending',
	matched_keywords JSONB,
	prevetted_at     TIMESTAMPTZ,
	document         TEXT NOT NULL DEFAULT '',
	enrichment       JSONB NOT NULL DEFAULT '{}',
	images           JSONB NOT NULL DEFAULT '{}',
	active           BOOLEAN NOT NULL DEFAULT true,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tiles (
	key          TEXT PRIMARY KEY,
	venue_count  INTEGER NOT NULL DEFAULT 0,
	collected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	failed_stage TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS processing_errors (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	venue_id    TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_venues_prevet_status ON venues(prevet_status);
CREATE INDEX IF NOT EXISTS idx_processing_errors_run_id ON processing_errors(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSelectVenue = `SELECT id, external_id, name, homepage, lat, lon, tags,
	prevet_status, matched_keywords, prevetted_at, document, enrichment, images,
	active, updated_at FROM venues`

func (s *PostgresStore) UpsertVenue(ctx context.Context, v *model.Venue) (*model.Venue, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tagsJSON, err := json.Marshal(v.Tags)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal tags")
	}
	enrichJSON, err := json.Marshal(model.DefaultEnrichment())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal enrichment")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO venues (id, external_id, name, homepage, lat, lon, tags, prevet_status, enrichment, images, active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}', true, $10)
		 ON CONFLICT (external_id) DO UPDATE SET
			name       = excluded.name,
			homepage   = excluded.homepage,
			lat        = excluded.lat,
			lon        = excluded.lon,
			tags       = excluded.tags,
			active     = true,
			updated_at = excluded.updated_at
		 RETURNING id, external_id, name, homepage, lat, lon, tags,
			prevet_status, matched_keywords, prevetted_at, document, enrichment, images,
			active, updated_at`,
		id, v.ExternalID, v.Name, v.Homepage, v.Point.Lat, v.Point.Lon,
		string(tagsJSON), string(model.PrevetPending), string(enrichJSON), now,
	)
	out, err := scanPgVenue(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert venue %s", v.ExternalID)
	}
	return out, nil
}

func (s *PostgresStore) GetVenue(ctx context.Context, id string) (*model.Venue, error) {
	row := s.pool.QueryRow(ctx, pgSelectVenue+` WHERE id = $1`, id)
	v, err := scanPgVenue(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get venue %s", id)
	}
	return v, nil
}

func (s *PostgresStore) ListVenues(ctx context.Context, filter VenueFilter) ([]model.Venue, error) {
	query := pgSelectVenue + ` WHERE true`
	var args []any

	if filter.PrevetStatus != "" {
		args = append(args, string(filter.PrevetStatus))
		query += ` AND prevet_status = $1`
	}
	if filter.ActiveOnly {
		query += ` AND active`
	}
	query += ` ORDER BY external_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list venues")
	}
	defer rows.Close()

	var venues []model.Venue
	for rows.Next() {
		v, err := scanPgVenue(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list venues scan")
		}
		venues = append(venues, *v)
	}
	return venues, eris.Wrap(rows.Err(), "postgres: list venues iterate")
}

func (s *PostgresStore) SetPrevet(ctx context.Context, id string, status model.PrevetStatus, keywords []string) error {
	var kwJSON any
	if len(keywords) > 0 {
		b, err := json.Marshal(keywords)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal keywords")
		}
		kwJSON = string(b)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE venues SET prevet_status = $1, matched_keywords = $2, prevetted_at = $3, updated_at = $3 WHERE id = $4`,
		string(status), kwJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set prevet %s", id)
	}
	return checkTag(tag, "venue", id)
}

func (s *PostgresStore) SetDocument(ctx context.Context, id string, doc string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE venues SET document = $1, updated_at = $2 WHERE id = $3`,
		doc, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set document %s", id)
	}
	return checkTag(tag, "venue", id)
}

func (s *PostgresStore) SetEnrichment(ctx context.Context, id string, e model.Enrichment) error {
	b, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE venues SET enrichment = $1, updated_at = $2 WHERE id = $3`,
		string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set enrichment %s", id)
	}
	return checkTag(tag, "venue", id)
}

func (s *PostgresStore) SetImageManifest(ctx context.Context, id string, m model.ImageManifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal image manifest")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE venues SET images = $1, updated_at = $2 WHERE id = $3`,
		string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set image manifest %s", id)
	}
	return checkTag(tag, "venue", id)
}

func (s *PostgresStore) HasTile(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM tiles WHERE key = $1`, key).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: has tile %s", key)
	}
	return true, nil
}

func (s *PostgresStore) RecordTile(ctx context.Context, key string, venueCount int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tiles (key, venue_count, collected_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO NOTHING`,
		key, venueCount, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record tile %s", key)
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.PipelineRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.PipelineRun{ID: id, Status: model.RunRunning, StartedAt: now}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, failedStage, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, failed_stage = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), failedStage, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) AppendError(ctx context.Context, pe model.ProcessingError) error {
	id := pe.ID
	if id == "" {
		id = uuid.New().String()
	}
	at := pe.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_errors (id, run_id, stage, venue_id, message, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, pe.RunID, pe.Stage, pe.VenueID, pe.Message, at,
	)
	return eris.Wrap(err, "postgres: append processing error")
}

func (s *PostgresStore) ListErrors(ctx context.Context, runID string) ([]model.ProcessingError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, stage, venue_id, message, occurred_at FROM processing_errors
		 WHERE run_id = $1 ORDER BY occurred_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processing errors")
	}
	defer rows.Close()

	var errs []model.ProcessingError
	for rows.Next() {
		var pe model.ProcessingError
		if err := rows.Scan(&pe.ID, &pe.RunID, &pe.Stage, &pe.VenueID, &pe.Message, &pe.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processing error")
		}
		errs = append(errs, pe)
	}
	return errs, eris.Wrap(rows.Err(), "postgres: list processing errors iterate")
}

func (s *PostgresStore) Count(ctx context.Context) (*Counts, error) {
	c := &Counts{Prevet: make(map[model.PrevetStatus]int)}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM venues`).Scan(&c.Venues); err != nil {
		return nil, eris.Wrap(err, "postgres: count venues")
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tiles`).Scan(&c.Tiles); err != nil {
		return nil, eris.Wrap(err, "postgres: count tiles")
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM venues WHERE enrichment ->> 'extracted_at' IS NOT NULL`,
	).Scan(&c.Enriched); err != nil {
		return nil, eris.Wrap(err, "postgres: count enriched")
	}

	rows, err := s.pool.Query(ctx, `SELECT prevet_status, count(*) FROM venues GROUP BY prevet_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count prevet")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prevet count")
		}
		c.Prevet[model.PrevetStatus(status)] = n
	}
	return c, eris.Wrap(rows.Err(), "postgres: count prevet iterate")
}

// helpers

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanPgVenue(row pgx.Row) (*model.Venue, error) {
	var v model.Venue
	var tagsJSON, enrichJSON, imagesJSON []byte
	var kwJSON []byte
	var prevettedAt *time.Time
	var status string

	err := row.Scan(&v.ID, &v.ExternalID, &v.Name, &v.Homepage, &v.Point.Lat, &v.Point.Lon,
		&tagsJSON, &status, &kwJSON, &prevettedAt, &v.Document, &enrichJSON, &imagesJSON,
		&v.Active, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("venue not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan venue")
	}

	v.PrevetStatus = model.PrevetStatus(status)
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &v.Tags); err != nil {
			return nil, eris.Wrap(err, "unmarshal tags")
		}
	}
	if len(enrichJSON) > 0 {
		if err := json.Unmarshal(enrichJSON, &v.Enrichment); err != nil {
			return nil, eris.Wrap(err, "unmarshal enrichment")
		}
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &v.Images); err != nil {
			return nil, eris.Wrap(err, "unmarshal images")
		}
	}
	if len(kwJSON) > 0 {
		if err := json.Unmarshal(kwJSON, &v.MatchedKeywords); err != nil {
			return nil, eris.Wrap(err, "unmarshal keywords")
		}
	}
	v.PrevettedAt = prevettedAt
	return &v, nil
}
