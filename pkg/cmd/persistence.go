package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/persistence/file"
	"github.com/vidaflow/vidaflow/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence layer from a database URL. A
// postgres URL gets the production implementation, migrations included;
// anything else is treated as a file path for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, claimTTL time.Duration) persistence.Persistence {
	if claimTTL <= 0 {
		claimTTL = postgresql.DefaultClaimTTL
	}

	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistenceWithClaimTTL(ctx, logger, databaseURL, claimTTL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgresql persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	return parts[0]
}
