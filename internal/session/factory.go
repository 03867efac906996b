package session

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/lexclaim/internal/observability"
)

// Open creates a badger-backed store, or an in-memory one for backend "memory".
func Open(backend, dir string, metrics *observability.Metrics, logger *slog.Logger) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "memory":
		return NewStore(NewMemoryBackend(), metrics, logger), nil
	case "", "badger":
		b, err := NewBadgerBackend(dir)
		if err != nil {
			return nil, err
		}
		return NewStore(b, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", backend)
	}
}
