package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/merlin/pkg/types"
)

func sampleAttempt(id string, level int) types.Attempt {
	return types.Attempt{
		ID:        id,
		Level:     level,
		Kind:      types.ActionSubmit,
		Payload:   "OCEAN",
		Response:  "Wrong password.",
		Outcome:   types.OutcomeRejected,
		Tactic:    "extract",
		Hint:      "think deeper",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
}

func storeContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	s := open(t)
	defer s.Close()

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	a1, a2 := sampleAttempt("a1", 1), sampleAttempt("a2", 2)
	require.NoError(t, s.Append(ctx, a1))
	require.NoError(t, s.Append(ctx, a2))
	assert.ErrorIs(t, s.Append(ctx, a1), ErrAlreadyExists)

	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Attempt{a1, a2}, loaded)
}

func TestMemStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemStore() })
}

func TestJSONLStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewJSONLStore(filepath.Join(t.TempDir(), "nested", "attempts.jsonl"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "attempts.db"))
		require.NoError(t, err)
		return s
	})
}

func TestJSONLStore_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.jsonl")
	good := `{"id":"a1","level":1,"action_kind":"ask","payload":"q","response_text":"r","outcome":"ambiguous","timestamp":"2025-03-01T12:00:00Z"}`
	dup := good
	content := good + "\n{not json\n\n" + `{"level":1}` + "\n" + dup + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := NewJSONLStore(path)
	require.NoError(t, err)

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a1", loaded[0].ID)

	// IDs already on disk are known after reopening.
	assert.ErrorIs(t, s.Append(context.Background(), loaded[0]), ErrAlreadyExists)
}

func TestJSONLStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.jsonl")
	ctx := context.Background()

	s1, err := NewJSONLStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Append(ctx, sampleAttempt("a1", 1)))
	require.NoError(t, s1.Close())

	m := New(mustJSONL(t, path))
	require.NoError(t, m.Load(ctx))
	assert.True(t, m.WasSubmitted(1, "ocean"))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Append(ctx, sampleAttempt("a1", 4)))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	m := New(s2)
	require.NoError(t, m.Load(ctx))
	assert.True(t, m.WasSubmitted(4, "OCEAN"))
	assert.Equal(t, "think deeper", m.Summary(4).LastHint)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(BackendJSONL, filepath.Join(dir, "a.jsonl"))
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, s)

	s, err = Open(BackendSQLite, filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	_, err = Open("redis", "")
	assert.Error(t, err)
}

func mustJSONL(t *testing.T, path string) *JSONLStore {
	t.Helper()
	s, err := NewJSONLStore(path)
	require.NoError(t, err)
	return s
}
