package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/soltax/service/db"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(c *cli.Context) error {
			dbURL := c.String("database-url")
			if dbURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(c.Context, time.Minute)
			defer cancel()

			pool, err := db.Connect(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			applied, err := db.Migrate(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			out := map[string]any{"applied": applied}
			return render(c, out, func(w io.Writer) {
				if len(applied) == 0 {
					fmt.Fprintln(w, "Database is up to date.")
					return
				}
				for _, name := range applied {
					fmt.Fprintf(w, "applied %s\n", name)
				}
			})
		},
	}
}
