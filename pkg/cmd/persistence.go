// Package cmd wires shared infrastructure for the engine and API binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pumba68/qatering-journeys/pkg/persistence"
	"github.com/pumba68/qatering-journeys/pkg/persistence/memory"
	"github.com/pumba68/qatering-journeys/pkg/persistence/postgres"
)

// NewPersistence selects the store backend from the database URL scheme.
// postgres:// and postgresql:// open a PostgreSQL pool and run migrations;
// an empty URL or memory:// yields the in-memory store used in tests and
// local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.NewPersistence(ctx, logger, databaseURL)
	case databaseURL == "", strings.HasPrefix(databaseURL, "memory"):
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q", databaseURL)
	}
}
