package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var ErrStateNotFound = errors.New("session state not found")

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreUpstash  = "upstash"
	StorePostgres = "postgres"
)

// Store is the persistence contract used by the orchestrator.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)
	Save(ctx context.Context, rec *SessionRecord) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

type StoreConfig struct {
	Kind     string             `envconfig:"KIND" default:"memory"`
	Codec    string             `envconfig:"CODEC" default:"msgpack"`
	Dir      string             `envconfig:"DIR" default:".sessions"`
	Upstash  UpstashRedisConfig `envconfig:"UPSTASH"`
	Postgres PostgresConfig     `envconfig:"POSTGRES"`
}

// OpenStore builds the store selected by cfg.Kind.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", StoreMemory:
		return NewMemoryStore(codec), nil
	case StoreFile:
		return NewFileStore(cfg.Dir)
	case StoreUpstash:
		return NewUpstashRedisStore(cfg.Upstash)
	case StorePostgres:
		return NewPostgresStore(ctx, cfg.Postgres, WithPostgresCodec(codec))
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// MemoryStore keeps encoded records in process. Records are stored encoded
// so callers never share memory with the store.
type MemoryStore struct {
	codec   Codec
	records *xsync.MapOf[string, []byte]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(codec Codec) *MemoryStore {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	return &MemoryStore{codec: codec, records: xsync.NewMapOf[string, []byte]()}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	raw, ok := s.records.Load(sessionID)
	if !ok {
		return nil, ErrStateNotFound
	}
	var rec SessionRecord
	if err := s.codec.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareRecord(rec); err != nil {
		return err
	}
	raw, err := s.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	s.records.Store(rec.SessionID, raw)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.records.Delete(sessionID)
	return nil
}

func (s *MemoryStore) Len() int { return s.records.Size() }

func (s *MemoryStore) Close() error { return nil }

// prepareRecord validates rec and normalises its timestamps before a save.
func prepareRecord(rec *SessionRecord) error {
	if rec == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return ErrInvalidSession
	}
	if rec.Version <= 0 {
		rec.Version = RecordVersion
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	} else {
		rec.UpdatedAt = rec.UpdatedAt.UTC()
	}
	return rec.Validate()
}
