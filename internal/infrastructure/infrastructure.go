// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage) shared by the
// server and the trainer.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/pkg/database"
	"github.com/aviario/postura/pkg/lifecycle"
	"github.com/aviario/postura/pkg/storage"
)

// Infrastructure holds the core systems required by the application.
// Database and Storage are nil when disabled in the configuration.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
}

// New creates an Infrastructure from the application configuration.
// It initializes the enabled systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.Level(),
		})),
	}

	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database, infra.Logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Database = db
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(&cfg.Storage, infra.Logger)
		if err != nil {
			return nil, fmt.Errorf("storage init failed: %w", err)
		}
		infra.Storage = store
	}

	return infra, nil
}

// Start registers the enabled systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if i.Database != nil {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	}
	if i.Storage != nil {
		if err := i.Storage.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("storage start failed: %w", err)
		}
	}
	return nil
}
