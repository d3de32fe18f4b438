// Package pg implements the channel and position stores on Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"recruitmate/internal/domain"
	"recruitmate/internal/secrets"
	"recruitmate/internal/store"
)

// OpenDB opens a pooled connection through the pgx stdlib driver.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by Postgres.
type Store struct {
	db     *sql.DB
	sealer store.Sealer
	logger *slog.Logger
}

// New connects, applies migrations and returns the store.
func New(ctx context.Context, dsn string, box *secrets.Box, logger *slog.Logger) (*Store, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, sealer: store.Sealer{Box: box}, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const channelColumns = `id, phone_number_id, business_account_id, access_token,
	signing_secret, llm_api_key, owner_id, created_at`

func (s *Store) FindByRoutingKey(ctx context.Context, phoneNumberID string) (*domain.ChannelConfig, error) {
	ch, err := s.scanChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE phone_number_id = $1`, phoneNumberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find channel %s: %w", phoneNumberID, err)
	}
	return ch, nil
}

func (s *Store) ExistsVerifyToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM channels WHERE verify_token_digest = $1)`, store.VerifyDigest(token),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup verify token: %w", err)
	}
	return exists, nil
}

func (s *Store) UpsertChannel(ctx context.Context, ch domain.ChannelConfig) error {
	if ch.PhoneNumberID == "" {
		return errors.New("channel phone_number_id is required")
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	sealed, err := s.sealer.SealChannel(ch)
	if err != nil {
		return fmt.Errorf("seal channel credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels (id, phone_number_id, business_account_id, access_token,
			verify_token_digest, signing_secret, llm_api_key, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (phone_number_id) DO UPDATE SET
			business_account_id = EXCLUDED.business_account_id,
			access_token        = EXCLUDED.access_token,
			verify_token_digest = CASE WHEN EXCLUDED.verify_token_digest = ''
				THEN channels.verify_token_digest ELSE EXCLUDED.verify_token_digest END,
			signing_secret      = EXCLUDED.signing_secret,
			llm_api_key         = EXCLUDED.llm_api_key,
			owner_id            = EXCLUDED.owner_id`,
		sealed.ID, sealed.PhoneNumberID, sealed.BusinessAccountID, sealed.AccessToken,
		store.VerifyDigest(ch.VerifyToken), sealed.SigningSecret, sealed.LLMAPIKey, sealed.OwnerID,
		ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert channel %s: %w", ch.PhoneNumberID, err)
	}
	return nil
}

func (s *Store) ListChannels(ctx context.Context) ([]domain.ChannelConfig, error) {
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

func (s *Store) DeleteChannel(ctx context.Context, phoneNumberID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE phone_number_id = $1`, phoneNumberID)
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", phoneNumberID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanChannel(row rowScanner) (*domain.ChannelConfig, error) {
	var ch domain.ChannelConfig
	if err := row.Scan(&ch.ID, &ch.PhoneNumberID, &ch.BusinessAccountID, &ch.AccessToken,
		&ch.SigningSecret, &ch.LLMAPIKey, &ch.OwnerID, &ch.CreatedAt); err != nil {
		return nil, err
	}
	opened, err := s.sealer.OpenChannel(ch)
	if err != nil {
		return nil, fmt.Errorf("open channel credentials: %w", err)
	}
	return &opened, nil
}

const positionColumns = `id, title, description, benefits, start_time, end_time, interval_time, status`

func (s *Store) ListOpen(ctx context.Context, fields string) ([]domain.Position, error) {
	if fields == domain.FieldsSummary {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, title FROM positions WHERE status = $1 ORDER BY id`, string(domain.StatusOpen))
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
		`SELECT `+positionColumns+` FROM positions WHERE status = $1 ORDER BY id`, string(domain.StatusOpen))
}

func (s *Store) FindOpen(ctx context.Context, id int64) (*domain.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1 AND status = $2`, id, string(domain.StatusOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find position %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) SearchOpenByTitle(ctx context.Context, query string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE status = $1 AND title ILIKE $2 ESCAPE '\'
		 ORDER BY id`,
		string(domain.StatusOpen), store.LikePattern(query))
}

func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) (int64, error) {
	if err := store.ValidatePosition(&p); err != nil {
		return 0, err
	}

	if p.ID == 0 {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO positions (title, description, benefits, start_time, end_time, interval_time, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			p.Title, p.Description, p.Benefits, p.StartTime, p.EndTime, p.IntervalTime, string(p.Status),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert position: %w", err)
		}
		return id, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, title, description, benefits, start_time, end_time, interval_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title         = EXCLUDED.title,
			description   = EXCLUDED.description,
			benefits      = EXCLUDED.benefits,
			start_time    = EXCLUDED.start_time,
			end_time      = EXCLUDED.end_time,
			interval_time = EXCLUDED.interval_time,
			status        = EXCLUDED.status,
			updated_at    = now()`,
		p.ID, p.Title, p.Description, p.Benefits, p.StartTime, p.EndTime, p.IntervalTime, string(p.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert position %d: %w", p.ID, err)
	}
	return p.ID, nil
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
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
	var start, end sql.NullTime
	var interval sql.NullInt64
	var status string
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Benefits, &start, &end, &interval, &status); err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	if start.Valid {
		t := start.Time.UTC()
		p.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		p.EndTime = &t
	}
	if interval.Valid {
		v := int(interval.Int64)
		p.IntervalTime = &v
	}
	return &p, nil
}
