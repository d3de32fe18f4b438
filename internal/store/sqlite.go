package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"recruitmate/internal/domain"
	"recruitmate/internal/secrets"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements ChannelStore and PositionStore on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	sealer Sealer
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, box *secrets.Box, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, sealer: Sealer{Box: box}, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const channelColumns = `id, phone_number_id, business_account_id, access_token,
	signing_secret, llm_api_key, owner_id, created_at`

func (s *SQLiteStore) FindByRoutingKey(ctx context.Context, phoneNumberID string) (*domain.ChannelConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE phone_number_id = ?`, phoneNumberID)
	ch, err := s.scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find channel %s: %w", phoneNumberID, err)
	}
	return ch, nil
}

func (s *SQLiteStore) ExistsVerifyToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channels WHERE verify_token_digest = ? LIMIT 1`, VerifyDigest(token),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup verify token: %w", err)
	}
	return true, nil
}

// UpsertChannel inserts ch or updates the row owning its routing key. An
// empty verify token on update keeps the stored one.
func (s *SQLiteStore) UpsertChannel(ctx context.Context, ch domain.ChannelConfig) error {
	if ch.PhoneNumberID == "" {
		return errors.New("channel phone_number_id is required")
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = s.now()
	}
	sealed, err := s.sealer.SealChannel(ch)
	if err != nil {
		return fmt.Errorf("seal channel credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels (id, phone_number_id, business_account_id, access_token,
			verify_token_digest, signing_secret, llm_api_key, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone_number_id) DO UPDATE SET
			business_account_id = excluded.business_account_id,
			access_token        = excluded.access_token,
			verify_token_digest = CASE WHEN excluded.verify_token_digest = ''
				THEN channels.verify_token_digest ELSE excluded.verify_token_digest END,
			signing_secret      = excluded.signing_secret,
			llm_api_key         = excluded.llm_api_key,
			owner_id            = excluded.owner_id`,
		sealed.ID, sealed.PhoneNumberID, sealed.BusinessAccountID, sealed.AccessToken,
		VerifyDigest(ch.VerifyToken), sealed.SigningSecret, sealed.LLMAPIKey, sealed.OwnerID,
		ch.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert channel %s: %w", ch.PhoneNumberID, err)
	}
	return nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]domain.ChannelConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels ORDER BY created_at, phone_number_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.ChannelConfig
	for rows.Next() {
		ch, err := s.scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChannel(ctx context.Context, phoneNumberID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE phone_number_id = ?`, phoneNumberID)
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", phoneNumberID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanChannel(row rowScanner) (*domain.ChannelConfig, error) {
	var ch domain.ChannelConfig
	var created int64
	if err := row.Scan(&ch.ID, &ch.PhoneNumberID, &ch.BusinessAccountID, &ch.AccessToken,
		&ch.SigningSecret, &ch.LLMAPIKey, &ch.OwnerID, &created); err != nil {
		return nil, err
	}
	ch.CreatedAt = time.Unix(0, created)

	opened, err := s.sealer.OpenChannel(ch)
	if err != nil {
		return nil, fmt.Errorf("open channel credentials: %w", err)
	}
	return &opened, nil
}

const positionColumns = `id, title, description, benefits, start_time, end_time, interval_time, status`

func (s *SQLiteStore) ListOpen(ctx context.Context, fields string) ([]domain.Position, error) {
	if fields == domain.FieldsSummary {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, title FROM positions WHERE status = ? ORDER BY id`, domain.StatusOpen)
		if err != nil {
			return nil, fmt.Errorf("list open positions: %w", err)
		}
		defer rows.Close()

		var out []domain.Position
		for rows.Next() {
			p := domain.Position{Status: domain.StatusOpen}
			if err := rows.Scan(&p.ID, &p.Title); err != nil {
				return nil, fmt.Errorf("list open positions: %w", err)
			}
			out = append(out, p)
		}
		return out, rows.Err()
	}

	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY id`, domain.StatusOpen)
}

func (s *SQLiteStore) FindOpen(ctx context.Context, id int64) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ? AND status = ?`, id, domain.StatusOpen)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find position %d: %w", id, err)
	}
	return p, nil
}

// SearchOpenByTitle matches query as a case-insensitive substring of the
// title.
func (s *SQLiteStore) SearchOpenByTitle(ctx context.Context, query string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE status = ? AND title LIKE ? ESCAPE '\'
		 ORDER BY id`,
		domain.StatusOpen, LikePattern(query))
}

// UpsertPosition inserts p when its ID is zero, otherwise writes it under
// that ID. It returns the row id.
func (s *SQLiteStore) UpsertPosition(ctx context.Context, p domain.Position) (int64, error) {
	if err := ValidatePosition(&p); err != nil {
		return 0, err
	}
	now := s.now().UnixNano()
	args := []any{p.Title, p.Description, p.Benefits,
		unixOrNil(p.StartTime), unixOrNil(p.EndTime), intOrNil(p.IntervalTime), string(p.Status), now, now}

	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO positions (title, description, benefits, start_time, end_time,
				interval_time, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return 0, fmt.Errorf("insert position: %w", err)
		}
		return res.LastInsertId()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, title, description, benefits, start_time, end_time,
			interval_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title         = excluded.title,
			description   = excluded.description,
			benefits      = excluded.benefits,
			start_time    = excluded.start_time,
			end_time      = excluded.end_time,
			interval_time = excluded.interval_time,
			status        = excluded.status,
			updated_at    = excluded.updated_at`,
		append([]any{p.ID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("upsert position %d: %w", p.ID, err)
	}
	return p.ID, nil
}

func (s *SQLiteStore) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var start, end, interval sql.NullInt64
	var status string
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Benefits, &start, &end, &interval, &status); err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	if start.Valid {
		t := time.Unix(start.Int64, 0).UTC()
		p.StartTime = &t
	}
	if end.Valid {
		t := time.Unix(end.Int64, 0).UTC()
		p.EndTime = &t
	}
	if interval.Valid {
		v := int(interval.Int64)
		p.IntervalTime = &v
	}
	return &p, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
