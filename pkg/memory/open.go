package memory

import "fmt"

// Backend names accepted by Open.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open returns the Store for a configured backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendJSONL, "":
		return NewJSONLStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	case BackendMemory:
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("memory: unknown backend %q", backend)
	}
}
