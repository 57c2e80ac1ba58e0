// Package memory is the append-only attempt log and its per-level index.
//
// Memory answers "have we tried this" for the strategist and keeps every
// attempt durable through a Store so a restarted session never repeats a
// rejected guess.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/types"
)

// RetryPolicy bounds persistence retries.
type RetryPolicy struct {
	MaxTries  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy tries three times, doubling from 50ms up to 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

func (p RetryPolicy) delay(try int) time.Duration {
	d := p.BaseDelay << try
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// Memory owns the attempt log. All methods are safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	store Store
	log   []types.Attempt
	ids   map[string]struct{}
	index map[int]*levelIndex

	retry  RetryPolicy
	logger logging.Interface
	now    func() time.Time
}

// Option configures a Memory.
type Option func(*Memory)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Memory) { m.retry = p }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l logging.Interface) Option {
	return func(m *Memory) { m.logger = l }
}

// WithClock sets the timestamp source for attempts recorded without one.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New returns a Memory backed by store. A nil store keeps attempts in
// process memory only.
func New(store Store, opts ...Option) *Memory {
	if store == nil {
		store = NewMemStore()
	}
	m := &Memory{
		store:  store,
		ids:    make(map[string]struct{}),
		index:  make(map[int]*levelIndex),
		retry:  DefaultRetryPolicy(),
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry.MaxTries < 1 {
		m.retry.MaxTries = 1
	}
	return m
}

// Load replays the persisted log, rebuilding the index. Attempts already
// recorded in this process are kept.
func (m *Memory) Load(ctx context.Context) error {
	persisted, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("memory: load: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make([]types.Attempt, 0, len(persisted)+len(m.log))
	ids := make(map[string]struct{}, len(persisted)+len(m.log))
	for _, batch := range [][]types.Attempt{persisted, m.log} {
		for _, a := range batch {
			if _, ok := ids[a.ID]; ok {
				continue
			}
			ids[a.ID] = struct{}{}
			merged = append(merged, a)
		}
	}
	m.log = merged
	m.ids = ids
	m.index = make(map[int]*levelIndex)
	m.logger.Infof("loaded %d attempts (%d from store)", len(merged), len(persisted))
	return nil
}

// Record appends a to the log and persists it. A missing ID or timestamp is
// filled in. The in-memory record is kept even when persistence fails, in
// which case a *PersistenceError is returned.
func (m *Memory) Record(ctx context.Context, a types.Attempt) error {
	if a.Level < 1 {
		return fmt.Errorf("%w: level %d", ErrInvalidAttempt, a.Level)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidAttempt, a.Kind)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	if _, dup := m.ids[a.ID]; dup {
		m.mu.Unlock()
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidAttempt, a.ID)
	}
	m.ids[a.ID] = struct{}{}
	m.log = append(m.log, a)
	if idx, ok := m.index[a.Level]; ok {
		idx.add(a)
	}
	m.mu.Unlock()

	return m.persist(ctx, a)
}

func (m *Memory) persist(ctx context.Context, a types.Attempt) error {
	var lastErr error
	tries := 0
	for tries < m.retry.MaxTries {
		tries++
		err := m.store.Append(ctx, a)
		if err == nil || errors.Is(err, ErrAlreadyExists) {
			return nil
		}
		lastErr = err
		m.logger.Warnf("persist attempt %s (try %d/%d): %v", a.ID, tries, m.retry.MaxTries, err)
		if tries == m.retry.MaxTries {
			break
		}
		t := time.NewTimer(m.retry.delay(tries - 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return &PersistenceError{AttemptID: a.ID, Tries: tries, Err: ctx.Err()}
		case <-t.C:
		}
	}
	return &PersistenceError{AttemptID: a.ID, Tries: tries, Err: lastErr}
}

// indexFor returns the level index, building it from the log if needed.
// Callers hold m.mu.
func (m *Memory) indexFor(level int) *levelIndex {
	if idx, ok := m.index[level]; ok {
		return idx
	}
	idx := newLevelIndex()
	for _, a := range m.log {
		if a.Level == level {
			idx.add(a)
		}
	}
	m.index[level] = idx
	return idx
}

// WasSubmitted reports whether payload was submitted at level with a
// rejected or success outcome. Comparison is case-normalized.
func (m *Memory) WasSubmitted(level int, payload string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indexFor(level).submitted[types.NormalizePayload(payload)]
	return ok
}

// WasRejected reports whether the latest submit of payload at level was
// rejected. A payload that once succeeded stays eligible.
func (m *Memory) WasRejected(level int, payload string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexFor(level).submitted[types.NormalizePayload(payload)] == types.OutcomeRejected
}

// SolvedWith returns the payload that last advanced level, unless it has
// been rejected since.
func (m *Memory) SolvedWith(level int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.indexFor(level).solved
	return p, p != ""
}

// WasAsked reports whether a question with this fingerprint was asked at
// level. Pass the result of Fingerprint.
func (m *Memory) WasAsked(level int, fingerprint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indexFor(level).asked[fingerprint]
	return ok
}

// Summary aggregates the attempts at level.
func (m *Memory) Summary(level int) types.LevelSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexFor(level).summary(level)
}

// Attempts returns copies of the attempts at level in record order.
func (m *Memory) Attempts(level int) []types.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Attempt
	for _, a := range m.log {
		if a.Level == level {
			out = append(out, a)
		}
	}
	return out
}

// Forget drops the cached index for level. The log itself is untouched and
// the index is rebuilt on the next query.
func (m *Memory) Forget(level int) {
	m.mu.Lock()
	delete(m.index, level)
	m.mu.Unlock()
}

// Close releases the store.
func (m *Memory) Close() error {
	return m.store.Close()
}
