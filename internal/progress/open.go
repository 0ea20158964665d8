package progress

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by OpenStore.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendDocstore = "docstore"
)

// OpenStore opens the store for backend at path, creating parent dirs.
// An empty backend means BackendJSON.
func OpenStore(backend, path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("progress store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("progress store: %w", err)
	}
	switch backend {
	case "", BackendJSON:
		return FileStore{Path: path}, nil
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendDocstore:
		return OpenMemDocStore(path)
	default:
		return nil, fmt.Errorf("unknown progress backend %q", backend)
	}
}

var (
	_ Store = FileStore{}
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*DocStore)(nil)
)
