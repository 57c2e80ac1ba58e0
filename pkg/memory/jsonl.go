package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/merlin/pkg/types"
)

// maxLineSize bounds one JSONL record; replies are truncated by the browser
// long before this.
const maxLineSize = 4 << 20

// JSONLStore persists one JSON object per line and fsyncs after each append,
// so a record is durable before the turn that produced it closes.
type JSONLStore struct {
	path string
	mu   sync.Mutex
	ids  map[string]struct{}
}

// NewJSONLStore opens (creating if needed) the log at path.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("memory: init directory for %s: %w", path, err)
	}
	s := &JSONLStore{path: path, ids: make(map[string]struct{})}
	existing, err := s.Load(context.Background())
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		s.ids[a.ID] = struct{}{}
	}
	return s, nil
}

// Path returns the log file location.
func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Append(_ context.Context, a types.Attempt) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("memory: encode attempt %s: %w", a.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[a.ID]; ok {
		return ErrAlreadyExists
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("memory: open %s: %w", s.path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("memory: append %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("memory: sync %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("memory: close %s: %w", s.path, err)
	}
	s.ids[a.ID] = struct{}{}
	return nil
}

// Load reads every well-formed record in file order. Corrupt lines and
// duplicate IDs are skipped.
func (s *JSONLStore) Load(_ context.Context) ([]types.Attempt, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", s.path, err)
	}
	defer f.Close()

	var out []types.Attempt
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var a types.Attempt
		if err := json.Unmarshal(raw, &a); err != nil || a.ID == "" {
			slog.Debug("memory: skipping corrupt attempt record", "path", s.path, "line", lineNo, "err", err)
			continue
		}
		if _, dup := seen[a.ID]; dup {
			slog.Debug("memory: skipping duplicate attempt record", "path", s.path, "line", lineNo, "id", a.ID)
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("memory: read %s: %w", s.path, err)
	}
	return out, nil
}

func (s *JSONLStore) Close() error { return nil }
