package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashport-labs/apikey-gateway/interfaces"
)

// Factory creates a store from a URI. Supported schemes:
//
//	memory://                 in-process store for tests and local runs
//	postgres://user:pw@host/  pgx pool against the bundled schema
func Factory(ctx context.Context, uri string) (interfaces.Store, error) {
	switch {
	case uri == "memory://" || uri == "memory:":
		return NewMemoryStore(), nil
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return NewPostgresStore(ctx, uri)
	default:
		return nil, fmt.Errorf("unsupported store URI %q", uri)
	}
}
