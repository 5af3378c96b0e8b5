package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/kv"
	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/observability"
)

const defaultTitle = "Reminder"

// Store owns the memo collection. Every read and mutation goes through its
// methods; callers only ever see copies. After each mutation the whole
// collection is written to the backend under one key.
type Store struct {
	mu      sync.RWMutex
	memos   []Memo // newest first
	backend kv.Store
	key     string
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore builds an empty store. Call Reload to pick up persisted memos.
func NewStore(backend kv.Store, key string, opts ...Option) *Store {
	if backend == nil {
		backend = kv.NewMemoryStore()
	}
	if strings.TrimSpace(key) == "" {
		key = "memos"
	}
	s := &Store{
		backend: backend,
		key:     key,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "memo_store"))
	return s
}

func (s *Store) Create(ctx context.Context, title, dueTime string) (Memo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Memo{}, ErrEmptyTitle
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Memo{}, fmt.Errorf("allocate memo id: %w", err)
	}
	m := Memo{
		ID:        id.String(),
		Title:     title,
		Time:      strings.TrimSpace(dueTime),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memos = append([]Memo{m}, s.memos...)
	s.observe("create")
	return m, s.persistLocked(ctx)
}

// Update merges patch into the memo with the given id.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Memo, error) {
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return Memo{}, ErrEmptyTitle
		}
		patch.Title = &t
	}
	if patch.Time != nil {
		t := strings.TrimSpace(*patch.Time)
		patch.Time = &t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Memo{}, ErrNotFound
	}
	m := &s.memos[i]
	if patch.Title != nil {
		m.Title = *patch.Title
	}
	if patch.Time != nil {
		m.Time = *patch.Time
	}
	if patch.Notified != nil {
		m.Notified = *patch.Notified
	}
	if patch.Completed != nil {
		m.Completed = *patch.Completed
	}
	out := *m
	s.observe("update")
	return out, s.persistLocked(ctx)
}

// Reschedule moves a memo to a new due time and re-arms it.
func (s *Store) Reschedule(ctx context.Context, id, dueTime string) (Memo, error) {
	return s.Update(ctx, id, Patch{
		Time:      String(dueTime),
		Notified:  Bool(false),
		Completed: Bool(false),
	})
}

// MarkFired flags the memo notified and completed, but only while it is still
// pending at dueTime. A memo edited since the caller read it is left alone
// and reported with ok false.
func (s *Store) MarkFired(ctx context.Context, id, dueTime string) (Memo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Memo{}, false, ErrNotFound
	}
	m := &s.memos[i]
	if !m.Pending() || m.Time != dueTime {
		return *m, false, nil
	}
	m.Notified = true
	m.Completed = true
	out := *m
	s.observe("fire")
	return out, true, s.persistLocked(ctx)
}

// Delete removes the memo; deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.memos = append(s.memos[:i], s.memos[i+1:]...)
	s.observe("delete")
	return s.persistLocked(ctx)
}

// List returns every memo, newest-created first.
func (s *Store) List() []Memo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Memo, len(s.memos))
	copy(out, s.memos)
	return out
}

func (s *Store) Get(id string) (Memo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Memo{}, ErrNotFound
	}
	return s.memos[i], nil
}

// BackendMode names the persistence backend, e.g. "sqlite".
func (s *Store) BackendMode() string { return s.backend.Mode() }

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memos)
}

// Reload replaces the in-memory collection with the persisted one. Missing or
// unreadable data leaves an empty collection; it is never an error. Ids
// assigned while loading are written back so they stay stable.
func (s *Store) Reload(ctx context.Context) {
	loaded, repaired := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memos = loaded
	s.observe("reload")
	if repaired {
		if err := s.persistLocked(ctx); err != nil {
			s.logger.Warn("persist repaired memo ids failed", zap.Error(err))
		}
	}
}

func (s *Store) load(ctx context.Context) ([]Memo, bool) {
	data, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("memo collection unreadable, starting empty", zap.Error(err))
		return nil, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("memo collection is not a JSON array, starting empty", zap.Error(err))
		return nil, false
	}

	out := make([]Memo, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	repaired := false
	for i, item := range raw {
		m, ok := decodeLenient(item)
		if !ok {
			s.logger.Warn("skipping memo that is not an object", zap.Int("index", i))
			continue
		}
		if _, dup := seen[m.ID]; m.ID == "" || dup {
			m.ID = uuid.NewString()
			repaired = true
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out, repaired
}

// decodeLenient reads one persisted memo field by field. A field of the wrong
// type falls back to its zero value instead of dropping the memo.
func decodeLenient(item json.RawMessage) (Memo, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return Memo{}, false
	}
	var m Memo
	field := func(name string, dst any) {
		if v, ok := fields[name]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	field("id", &m.ID)
	field("title", &m.Title)
	field("time", &m.Time)
	field("notified", &m.Notified)
	field("completed", &m.Completed)
	field("created_at", &m.CreatedAt)

	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		m.Title = defaultTitle
	}
	m.Time = strings.TrimSpace(m.Time)
	return m, true
}

func (s *Store) indexLocked(id string) int {
	for i := range s.memos {
		if s.memos[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked(ctx context.Context) error {
	memos := s.memos
	if memos == nil {
		memos = []Memo{}
	}
	data, err := json.Marshal(memos)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := s.backend.Put(ctx, s.key, data); err != nil {
		s.logger.Error("memo collection write failed", zap.String("backend", s.backend.Mode()), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *Store) observe(op string) {
	if s.metrics == nil {
		return
	}
	s.metrics.MemoMutations.WithLabelValues(op).Inc()
	s.metrics.Memos.Set(float64(len(s.memos)))
}
