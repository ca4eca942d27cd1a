package migrate

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	registrymigrate "github.com/chirino/thread-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Set backends register their migrators alongside their factories.
	_ "github.com/chirino/thread-service/internal/plugin/idset/sql"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the set backend schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("THREAD_SERVICE_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "set-kind",
				Sources: cli.EnvVars("THREAD_SERVICE_SET_KIND"),
				Usage:   "Set backend (sqlite|postgres)",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.SetType = cmd.String("set-kind")
			if cfg.SetType != "sqlite" && cfg.SetType != "postgres" {
				return fmt.Errorf("set backend %q has no schema to migrate", cfg.SetType)
			}
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			// Running the command is the request to migrate.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "kind", cfg.SetType)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
