package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amishk599/jobalert/internal/model"

	_ "modernc.org/sqlite"
)

var _ model.Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_chat_id TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT 'fr',
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS job_searches (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	keywords     TEXT NOT NULL,
	locations    TEXT NOT NULL,
	max_age_days INTEGER NOT NULL DEFAULT 7,
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS job_postings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	company     TEXT NOT NULL,
	location    TEXT NOT NULL,
	url         TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	posted_at   INTEGER NOT NULL,
	source      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS user_notifications (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	job_posting_id INTEGER NOT NULL REFERENCES job_postings(id) ON DELETE CASCADE,
	sent_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_searches_user ON job_searches(user_id);
CREATE INDEX IF NOT EXISTS idx_job_postings_created ON job_postings(created_at);
CREATE INDEX IF NOT EXISTS idx_user_notifications_user ON user_notifications(user_id, job_posting_id);
`

// SQLiteStore persists subscribers, searches, postings and notification
// history in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists. Pass ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	// One connection keeps pragmas (and :memory: databases) consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if dbPath != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, now: o.now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const subscriberColumns = `id, telegram_chat_id, name, username, language, active, created_at, updated_at`

func scanSubscriber(row interface{ Scan(...any) error }) (model.Subscriber, error) {
	var (
		sub                  model.Subscriber
		active               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&sub.ID, &sub.ChatID, &sub.Name, &sub.Username, &sub.Language, &active, &createdAt, &updatedAt); err != nil {
		return model.Subscriber{}, err
	}
	sub.Active = active != 0
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return sub, nil
}

// ActiveSubscribers returns every active subscriber ordered by id.
func (s *SQLiteStore) ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+subscriberColumns+" FROM users WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying active subscribers: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubscriberByChatID looks up a subscriber by chat address.
func (s *SQLiteStore) SubscriberByChatID(ctx context.Context, chatID string) (model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+subscriberColumns+" FROM users WHERE telegram_chat_id = ?", chatID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscriber{}, fmt.Errorf("subscriber %s: %w", chatID, model.ErrNotFound)
	}
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("loading subscriber %s: %w", chatID, err)
	}
	return sub, nil
}

// CreateSubscriber inserts a new subscriber and returns it with its id.
func (s *SQLiteStore) CreateSubscriber(ctx context.Context, sub model.Subscriber) (model.Subscriber, error) {
	now := s.now().UTC().Truncate(time.Second)
	if sub.Language == "" {
		sub.Language = model.DefaultLanguage
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (telegram_chat_id, name, username, language, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ChatID, sub.Name, sub.Username, sub.Language, boolInt(sub.Active), now.Unix(), now.Unix())
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("creating subscriber %s: %w", sub.ChatID, err)
	}
	sub.ID, err = res.LastInsertId()
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("reading subscriber id: %w", err)
	}
	sub.CreatedAt, sub.UpdatedAt = now, now
	return sub, nil
}

// SetSubscriberActive pauses or resumes alerts for a chat.
func (s *SQLiteStore) SetSubscriberActive(ctx context.Context, chatID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET active = ?, updated_at = ? WHERE telegram_chat_id = ?",
		boolInt(active), s.now().Unix(), chatID)
	if err != nil {
		return fmt.Errorf("updating subscriber %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscriber %s: %w", chatID, model.ErrNotFound)
	}
	return nil
}

const searchColumns = `id, user_id, keywords, locations, max_age_days, active, created_at, updated_at`

func scanSearch(row interface{ Scan(...any) error }) (model.SavedSearch, error) {
	var (
		search               model.SavedSearch
		keywords, locations  string
		active               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&search.ID, &search.SubscriberID, &keywords, &locations, &search.MaxAgeDays, &active, &createdAt, &updatedAt); err != nil {
		return model.SavedSearch{}, err
	}
	var err error
	if search.Keywords, err = decodeTerms([]byte(keywords)); err != nil {
		return model.SavedSearch{}, err
	}
	if search.Locations, err = decodeTerms([]byte(locations)); err != nil {
		return model.SavedSearch{}, err
	}
	search.Active = active != 0
	search.CreatedAt = time.Unix(createdAt, 0).UTC()
	search.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return search, nil
}

func (s *SQLiteStore) querySearches(ctx context.Context, query string, args ...any) ([]model.SavedSearch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var searches []model.SavedSearch
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		searches = append(searches, search)
	}
	return searches, rows.Err()
}

// ActiveSearches returns the subscriber's active searches ordered by id.
func (s *SQLiteStore) ActiveSearches(ctx context.Context, subscriberID int64) ([]model.SavedSearch, error) {
	searches, err := s.querySearches(ctx,
		"SELECT "+searchColumns+" FROM job_searches WHERE user_id = ? AND active = 1 ORDER BY id", subscriberID)
	if err != nil {
		return nil, fmt.Errorf("querying active searches for subscriber %d: %w", subscriberID, err)
	}
	return searches, nil
}

// Searches returns all of the subscriber's searches ordered by id.
func (s *SQLiteStore) Searches(ctx context.Context, subscriberID int64) ([]model.SavedSearch, error) {
	searches, err := s.querySearches(ctx,
		"SELECT "+searchColumns+" FROM job_searches WHERE user_id = ? ORDER BY id", subscriberID)
	if err != nil {
		return nil, fmt.Errorf("querying searches for subscriber %d: %w", subscriberID, err)
	}
	return searches, nil
}

// UpsertSearch updates the search with the given id, or the subscriber's
// first search when id is zero, or inserts a new one.
func (s *SQLiteStore) UpsertSearch(ctx context.Context, search model.SavedSearch) (model.SavedSearch, error) {
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
	now := s.now().UTC().Truncate(time.Second)

	if search.ID == 0 {
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM job_searches WHERE user_id = ? ORDER BY id LIMIT 1", search.SubscriberID).Scan(&search.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return model.SavedSearch{}, fmt.Errorf("looking up search for subscriber %d: %w", search.SubscriberID, err)
		}
	}

	if search.ID != 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE job_searches SET keywords = ?, locations = ?, max_age_days = ?, active = ?, updated_at = ?
			 WHERE id = ?`,
			keywords, locations, search.MaxAgeDays, boolInt(search.Active), now.Unix(), search.ID)
		if err != nil {
			return model.SavedSearch{}, fmt.Errorf("updating search %d: %w", search.ID, err)
		}
		search.UpdatedAt = now
		return search, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_searches (user_id, keywords, locations, max_age_days, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		search.SubscriberID, keywords, locations, search.MaxAgeDays, boolInt(search.Active), now.Unix(), now.Unix())
	if err != nil {
		return model.SavedSearch{}, fmt.Errorf("creating search for subscriber %d: %w", search.SubscriberID, err)
	}
	if search.ID, err = res.LastInsertId(); err != nil {
		return model.SavedSearch{}, fmt.Errorf("reading search id: %w", err)
	}
	search.CreatedAt, search.UpdatedAt = now, now
	return search, nil
}

// NotifiedExternalIDs reports which external ids the subscriber has already
// been notified about, using a single IN query over the candidate batch.
func (s *SQLiteStore) NotifiedExternalIDs(ctx context.Context, subscriberID int64, externalIDs []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(externalIDs) == 0 {
		return seen, nil
	}

	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, subscriberID)
	for _, id := range externalIDs {
		args = append(args, id)
	}
	query := `SELECT DISTINCT p.external_id
		FROM user_notifications n
		JOIN job_postings p ON p.id = n.job_posting_id
		WHERE n.user_id = ? AND p.external_id IN (` + placeholders(len(externalIDs)) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// SavePostings inserts new postings and skips ones whose external id is
// already stored. Existing rows are never updated.
func (s *SQLiteStore) SavePostings(ctx context.Context, jobs []model.JobMatch) (map[string]int64, error) {
	ids := make(map[string]int64, len(jobs))
	if len(jobs) == 0 {
		return ids, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created := s.now().Unix()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO job_postings (external_id, title, company, location, url, description, posted_at, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("preparing posting insert: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		if _, err := stmt.ExecContext(ctx, j.ID, j.Title, j.Company, j.Location, j.URL, j.Description,
			j.PostedAt.Unix(), string(j.Source), created); err != nil {
			return nil, fmt.Errorf("inserting posting %s: %w", j.ID, err)
		}
	}

	external := uniqueIDs(jobs)
	args := make([]any, len(external))
	for i, id := range external {
		args[i] = id
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT id, external_id FROM job_postings WHERE external_id IN ("+placeholders(len(external))+")", args...)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing postings: %w", err)
	}
	return ids, nil
}

// RecordNotifications writes one history row per posting.
func (s *SQLiteStore) RecordNotifications(ctx context.Context, subscriberID int64, postingIDs []int64, sentAt time.Time) error {
	if len(postingIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, pid := range postingIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_notifications (user_id, job_posting_id, sent_at) VALUES (?, ?, ?)",
			subscriberID, pid, sentAt.Unix()); err != nil {
			return fmt.Errorf("recording notification of posting %d: %w", pid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing notifications: %w", err)
	}
	return nil
}

// DeletePostingsBefore removes postings created before cutoff. Their
// notification records go with them through the foreign key cascade.
func (s *SQLiteStore) DeletePostingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM job_postings WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("deleting postings before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading deleted count: %w", err)
	}
	return n, nil
}

// Stats counts rows for the status surface.
func (s *SQLiteStore) Stats(ctx context.Context, recentSince, cleanupBefore time.Time) (model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM users WHERE active = 1),
		(SELECT COUNT(*) FROM job_searches),
		(SELECT COUNT(*) FROM job_searches WHERE active = 1),
		(SELECT COUNT(*) FROM job_postings),
		(SELECT COUNT(*) FROM job_postings WHERE created_at >= ?),
		(SELECT COUNT(*) FROM job_postings WHERE created_at < ?),
		(SELECT COUNT(*) FROM user_notifications)`,
		recentSince.Unix(), cleanupBefore.Unix(),
	).Scan(&st.SubscribersTotal, &st.SubscribersActive, &st.SearchesTotal, &st.SearchesActive,
		&st.PostingsTotal, &st.PostingsRecentWeek, &st.PostingsEligible, &st.NotificationsTotal)
	if err != nil {
		return model.Stats{}, fmt.Errorf("collecting stats: %w", err)
	}
	return st, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
