package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:research_sessions,alias:rs"`

	SessionID string    `bun:"session_id,pk"`
	Codec     string    `bun:"codec,notnull"`
	Payload   []byte    `bun:"payload,type:bytea,notnull"`
	Requests  int       `bun:"requests,notnull,default:0"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type PostgresOption func(*PostgresStore)

func WithPostgresCodec(c Codec) PostgresOption {
	return func(s *PostgresStore) {
		if c != nil {
			s.codec = c
		}
	}
}

// PostgresStore keeps one row per session with the encoded record as payload.
type PostgresStore struct {
	db    *bun.DB
	codec Codec
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects and creates the sessions table when missing.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, opts ...PostgresOption) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())
	return newPostgresStore(ctx, db, opts...)
}

func newPostgresStore(ctx context.Context, db *bun.DB, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{db: db, codec: MsgpackCodec{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("session_id = ?", sessionID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	codec, err := CodecByName(row.Codec)
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := codec.Unmarshal(row.Payload, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session record loaded from store: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *SessionRecord) error {
	if err := prepareRecord(rec); err != nil {
		return err
	}
	payload, err := s.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	row := &sessionRow{
		SessionID: rec.SessionID,
		Codec:     s.codec.Name(),
		Payload:   payload,
		Requests:  len(rec.History),
		UpdatedAt: rec.UpdatedAt,
	}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id) DO UPDATE").
		Set("codec = EXCLUDED.codec").
		Set("payload = EXCLUDED.payload").
		Set("requests = EXCLUDED.requests").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	if _, err := s.db.NewDelete().Model((*sessionRow)(nil)).Where("session_id = ?", sessionID).Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
