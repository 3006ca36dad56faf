package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amishk599/jobalert/internal/model"
)

var _ model.Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id               BIGSERIAL PRIMARY KEY,
	telegram_chat_id TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT 'fr',
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS job_searches (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	keywords     JSONB NOT NULL,
	locations    JSONB NOT NULL,
	max_age_days INTEGER NOT NULL DEFAULT 7,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS job_postings (
	id          BIGSERIAL PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	company     TEXT NOT NULL,
	location    TEXT NOT NULL,
	url         TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	posted_at   TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS user_notifications (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	job_posting_id BIGINT NOT NULL REFERENCES job_postings(id) ON DELETE CASCADE,
	sent_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_job_searches_user ON job_searches(user_id);
CREATE INDEX IF NOT EXISTS idx_job_postings_created ON job_postings(created_at);
CREATE INDEX IF NOT EXISTS idx_user_notifications_user ON user_notifications(user_id, job_posting_id);
`

// PostgresStore is the PostgreSQL backend, used when DATABASE_URL points at
// a postgres server.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to dsn, verifies the connection and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	o := buildOptions(opts)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresStore{pool: pool, now: o.now}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgSubscriber(row pgx.Row) (model.Subscriber, error) {
	var sub model.Subscriber
	err := row.Scan(&sub.ID, &sub.ChatID, &sub.Name, &sub.Username, &sub.Language, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

func (s *PostgresStore) ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+subscriberColumns+" FROM users WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying active subscribers: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanPgSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) SubscriberByChatID(ctx context.Context, chatID string) (model.Subscriber, error) {
	sub, err := scanPgSubscriber(s.pool.QueryRow(ctx,
		"SELECT "+subscriberColumns+" FROM users WHERE telegram_chat_id = $1", chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Subscriber{}, fmt.Errorf("subscriber %s: %w", chatID, model.ErrNotFound)
	}
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("loading subscriber %s: %w", chatID, err)
	}
	return sub, nil
}

func (s *PostgresStore) CreateSubscriber(ctx context.Context, sub model.Subscriber) (model.Subscriber, error) {
	if sub.Language == "" {
		sub.Language = model.DefaultLanguage
	}
	now := s.now().UTC()
	created, err := scanPgSubscriber(s.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_chat_id, name, username, language, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+subscriberColumns,
		sub.ChatID, sub.Name, sub.Username, sub.Language, sub.Active, now))
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("creating subscriber %s: %w", sub.ChatID, err)
	}
	return created, nil
}

func (s *PostgresStore) SetSubscriberActive(ctx context.Context, chatID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET active = $1, updated_at = $2 WHERE telegram_chat_id = $3", active, s.now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("updating subscriber %s: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %s: %w", chatID, model.ErrNotFound)
	}
	return nil
}

func scanPgSearch(row pgx.Row) (model.SavedSearch, error) {
	var (
		search              model.SavedSearch
		keywords, locations []byte
	)
	if err := row.Scan(&search.ID, &search.SubscriberID, &keywords, &locations, &search.MaxAgeDays, &search.Active, &search.CreatedAt, &search.UpdatedAt); err != nil {
		return model.SavedSearch{}, err
	}
	var err error
	if search.Keywords, err = decodeTerms(keywords); err != nil {
		return model.SavedSearch{}, err
	}
	if search.Locations, err = decodeTerms(locations); err != nil {
		return model.SavedSearch{}, err
	}
	return search, nil
}

func (s *PostgresStore) querySearches(ctx context.Context, query string, args ...any) ([]model.SavedSearch, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var searches []model.SavedSearch
	for rows.Next() {
		search, err := scanPgSearch(rows)
		if err != nil {
			return nil, err
		}
		searches = append(searches, search)
	}
	return searches, rows.Err()
}

func (s *PostgresStore) ActiveSearches(ctx context.Context, subscriberID int64) ([]model.SavedSearch, error) {
	searches, err := s.querySearches(ctx,
		"SELECT "+searchColumns+" FROM job_searches WHERE user_id = $1 AND active ORDER BY id", subscriberID)
	if err != nil {
		return nil, fmt.Errorf("querying active searches for subscriber %d: %w", subscriberID, err)
	}
	return searches, nil
}

func (s *PostgresStore) Searches(ctx context.Context, subscriberID int64) ([]model.SavedSearch, error) {
	searches, err := s.querySearches(ctx,
		"SELECT "+searchColumns+" FROM job_searches WHERE user_id = $1 ORDER BY id", subscriberID)
	if err != nil {
		return nil, fmt.Errorf("querying searches for subscriber %d: %w", subscriberID, err)
	}
	return searches, nil
}

func (s *PostgresStore) UpsertSearch(ctx context.Context, search model.SavedSearch) (model.SavedSearch, error) {
	if err := search.Validate(); err != nil {
		return model.SavedSearch{}, err
	}
	search.Keywords = model.CleanTerms(search.Keywords)
	search.Locations = model.CleanTerms(search.Locations)

	keywords, err := encodeTerms(search.Keywords)
	if err != nil {
		return model.SavedSearch{}, err
	}
	locations, err := encodeTerms(search.Locations)
	if err != nil {
		return model.SavedSearch{}, err
	}
	now := s.now().UTC()

	if search.ID == 0 {
		err := s.pool.QueryRow(ctx,
			"SELECT id FROM job_searches WHERE user_id = $1 ORDER BY id LIMIT 1", search.SubscriberID).Scan(&search.ID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return model.SavedSearch{}, fmt.Errorf("looking up search for subscriber %d: %w", search.SubscriberID, err)
		}
	}

	var saved model.SavedSearch
	if search.ID != 0 {
		saved, err = scanPgSearch(s.pool.QueryRow(ctx,
			`UPDATE job_searches
			 SET keywords = $1::jsonb, locations = $2::jsonb, max_age_days = $3, active = $4, updated_at = $5
			 WHERE id = $6
			 RETURNING `+searchColumns,
			keywords, locations, search.MaxAgeDays, search.Active, now, search.ID))
	} else {
		saved, err = scanPgSearch(s.pool.QueryRow(ctx,
			`INSERT INTO job_searches (user_id, keywords, locations, max_age_days, active, created_at, updated_at)
			 VALUES ($1, $2::jsonb, $3::jsonb, $4, $5, $6, $6)
			 RETURNING `+searchColumns,
			search.SubscriberID, keywords, locations, search.MaxAgeDays, search.Active, now))
	}
	if err != nil {
		return model.SavedSearch{}, fmt.Errorf("saving search for subscriber %d: %w", search.SubscriberID, err)
	}
	return saved, nil
}

func (s *PostgresStore) NotifiedExternalIDs(ctx context.Context, subscriberID int64, externalIDs []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(externalIDs) == 0 {
		return seen, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.external_id
		 FROM user_notifications n
		 JOIN job_postings p ON p.id = n.job_posting_id
		 WHERE n.user_id = $1 AND p.external_id = ANY($2)`,
		subscriberID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("querying notified postings for subscriber %d: %w", subscriberID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning notified posting: %w", err)
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

func (s *PostgresStore) SavePostings(ctx context.Context, jobs []model.JobMatch) (map[string]int64, error) {
	ids := make(map[string]int64, len(jobs))
	if len(jobs) == 0 {
		return ids, nil
	}

	created := s.now().UTC()
	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(
			`INSERT INTO job_postings (external_id, title, company, location, url, description, posted_at, source, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (external_id) DO NOTHING`,
			j.ID, j.Title, j.Company, j.Location, j.URL, j.Description, j.PostedAt.UTC(), string(j.Source), created)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("inserting postings: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT id, external_id FROM job_postings WHERE external_id = ANY($1)", uniqueIDs(jobs))
	if err != nil {
		return nil, fmt.Errorf("reading posting ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			ext string
		)
		if err := rows.Scan(&id, &ext); err != nil {
			return nil, fmt.Errorf("scanning posting id: %w", err)
		}
		ids[ext] = id
	}
	return ids, rows.Err()
}

func (s *PostgresStore) RecordNotifications(ctx context.Context, subscriberID int64, postingIDs []int64, sentAt time.Time) error {
	if len(postingIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_notifications (user_id, job_posting_id, sent_at)
		 SELECT $1, unnest($2::bigint[]), $3`,
		subscriberID, postingIDs, sentAt.UTC())
	if err != nil {
		return fmt.Errorf("recording notifications for subscriber %d: %w", subscriberID, err)
	}
	return nil
}

func (s *PostgresStore) DeletePostingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM job_postings WHERE created_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting postings before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Stats(ctx context.Context, recentSince, cleanupBefore time.Time) (model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM users WHERE active),
		(SELECT COUNT(*) FROM job_searches),
		(SELECT COUNT(*) FROM job_searches WHERE active),
		(SELECT COUNT(*) FROM job_postings),
		(SELECT COUNT(*) FROM job_postings WHERE created_at >= $1),
		(SELECT COUNT(*) FROM job_postings WHERE created_at < $2),
		(SELECT COUNT(*) FROM user_notifications)`,
		recentSince.UTC(), cleanupBefore.UTC(),
	).Scan(&st.SubscribersTotal, &st.SubscribersActive, &st.SearchesTotal, &st.SearchesActive,
		&st.PostingsTotal, &st.PostingsRecentWeek, &st.PostingsEligible, &st.NotificationsTotal)
	if err != nil {
		return model.Stats{}, fmt.Errorf("collecting stats: %w", err)
	}
	return st, nil
}
