package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
)

// RecordVersion is bumped whenever SessionRecord changes shape.
const RecordVersion = 1

const defaultMaxHistory = 50

var (
	ErrInvalidSession  = errors.New("session id is empty")
	ErrSessionBusy     = errors.New("session is processing another request")
	ErrRecordVersion   = errors.New("unsupported session record version")
	ErrNilSessionState = errors.New("session record is nil")
)

// RequestRecord is the plan and result history of one submitted request.
type RequestRecord struct {
	ID         string                 `json:"id" toml:"id" msgpack:"id"`
	Request    string                 `json:"request" toml:"request" msgpack:"request"`
	Response   string                 `json:"response" toml:"response" msgpack:"response"`
	Degraded   bool                   `json:"degraded,omitempty" toml:"degraded,omitempty" msgpack:"degraded,omitempty"`
	Cause      string                 `json:"cause,omitempty" toml:"cause,omitempty" msgpack:"cause,omitempty"`
	Replans    int                    `json:"replans,omitempty" toml:"replans,omitempty" msgpack:"replans,omitempty"`
	Plans      []contractx.Plan       `json:"plans,omitempty" toml:"plans,omitempty" msgpack:"plans,omitempty"`
	Results    []contractx.StepResult `json:"results,omitempty" toml:"results,omitempty" msgpack:"results,omitempty"`
	StartedAt  time.Time              `json:"started_at" toml:"started_at" msgpack:"started_at"`
	FinishedAt time.Time              `json:"finished_at" toml:"finished_at" msgpack:"finished_at"`
}

// SessionRecord is the persisted form of a Session.
type SessionRecord struct {
	Version   int              `json:"version" toml:"version" msgpack:"version"`
	SessionID string           `json:"session_id" toml:"session_id" msgpack:"session_id"`
	CreatedAt time.Time        `json:"created_at" toml:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" toml:"updated_at" msgpack:"updated_at"`
	Memory    memoryx.Snapshot `json:"memory" toml:"memory" msgpack:"memory"`
	History   []RequestRecord  `json:"history,omitempty" toml:"history,omitempty" msgpack:"history,omitempty"`
}

func (r *SessionRecord) Validate() error {
	if r == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrInvalidSession
	}
	if r.Version != RecordVersion {
		return fmt.Errorf("%w: %d", ErrRecordVersion, r.Version)
	}
	return r.Memory.Limits.Validate()
}

// normalize puts every timestamp in UTC. Decoders differ in the location
// they attach to decoded times.
func (r *SessionRecord) normalize() {
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	for _, tier := range [][]contractx.Turn{r.Memory.ShortTerm, r.Memory.Working, r.Memory.LongTerm} {
		for i := range tier {
			tier[i].Timestamp = tier[i].Timestamp.UTC()
		}
	}
	for i := range r.History {
		h := &r.History[i]
		h.StartedAt = h.StartedAt.UTC()
		h.FinishedAt = h.FinishedAt.UTC()
		for j := range h.Plans {
			h.Plans[j].CreatedAt = h.Plans[j].CreatedAt.UTC()
		}
	}
}

// Session owns the memory and request history of one conversation. Requests
// are serialised through Acquire; memory commits happen only in Commit.
type Session struct {
	id   string
	turn chan struct{}

	mu         sync.Mutex
	memory     *memoryx.Manager
	history    []RequestRecord
	maxHistory int
	createdAt  time.Time
	updatedAt  time.Time
}

type SessionOption func(*Session)

// WithMaxHistory bounds the kept request records; older records are dropped.
func WithMaxHistory(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

func NewSession(id string, memory *memoryx.Manager, now time.Time, opts ...SessionOption) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidSession
	}
	if memory == nil {
		return nil, fmt.Errorf("%w: session memory is nil", contractx.ErrValidation)
	}
	s := &Session{
		id:         id,
		turn:       make(chan struct{}, 1),
		memory:     memory,
		maxHistory: defaultMaxHistory,
		createdAt:  now.UTC(),
		updatedAt:  now.UTC(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// RestoreSession rebuilds a Session from its record into memory, which is
// overwritten with the record's snapshot.
func RestoreSession(rec *SessionRecord, memory *memoryx.Manager, opts ...SessionOption) (*Session, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	s, err := NewSession(rec.SessionID, memory, rec.CreatedAt, opts...)
	if err != nil {
		return nil, err
	}
	if err := memory.Restore(rec.Memory); err != nil {
		return nil, fmt.Errorf("restore session memory: %w", err)
	}
	s.history = copyHistory(rec.History)
	s.trimHistory()
	s.updatedAt = rec.UpdatedAt.UTC()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Memory() *memoryx.Manager { return s.memory }

// Acquire blocks until no other request runs on this session. The returned
// release must be called exactly once.
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.turn }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, ctx.Err())
	}
}

// TryAcquire is Acquire without waiting.
func (s *Session) TryAcquire() (func(), error) {
	select {
	case s.turn <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.turn }) }, nil
	default:
		return nil, ErrSessionBusy
	}
}

// Commit validates every turn before committing any, then commits them in
// order and appends rec to the history. Nothing is committed when a turn is
// rejected.
func (s *Session) Commit(turns []contractx.Turn, rec RequestRecord, now time.Time) ([]contractx.Turn, error) {
	for i, t := range turns {
		if err := memoryx.ValidateTurn(t); err != nil {
			return nil, fmt.Errorf("turn #%d: %w", i+1, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	committed := make([]contractx.Turn, 0, len(turns))
	for _, t := range turns {
		c, err := s.memory.Commit(t)
		if err != nil {
			return committed, err
		}
		committed = append(committed, c)
	}
	s.history = append(s.history, deepcopy.Copy(rec).(RequestRecord))
	s.trimHistory()
	s.updatedAt = now.UTC()
	return committed, nil
}

// History returns a deep copy of the request records, oldest first.
func (s *Session) History() []RequestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyHistory(s.history)
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Record snapshots the session for persistence.
func (s *Session) Record() *SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SessionRecord{
		Version:   RecordVersion,
		SessionID: s.id,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Memory:    s.memory.Snapshot(),
		History:   copyHistory(s.history),
	}
}

func (s *Session) trimHistory() {
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append([]RequestRecord(nil), s.history[over:]...)
	}
}

func copyHistory(h []RequestRecord) []RequestRecord {
	if len(h) == 0 {
		return nil
	}
	return deepcopy.Copy(h).([]RequestRecord)
}
