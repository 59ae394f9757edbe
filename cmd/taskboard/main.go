package main

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/taskboard/pkg/cli"
	"github.com/platinummonkey/taskboard/pkg/config"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage/postgres"
)

var version = "dev"

func main() {
	root := cli.NewRootCommand("taskboard", "Multi-tenant task management API")
	root.Default = "serve"
	root.Add(&cli.Command{Name: "serve", Description: "Run the API and ops servers", Run: serve})
	root.Add(&cli.Command{Name: "migrate", Description: "Apply database migrations and exit", Run: migrate})
	root.Add(&cli.Command{Name: "purge-tokens", Description: "Clear expired verification and reset tokens once", Run: purgeTokens})
	root.Add(&cli.Command{Name: "create-admin", Description: "Create a verified global administrator", Run: createAdmin})
	root.Add(&cli.Command{Name: "version", Description: "Print the build version", Run: func([]string) error {
		fmt.Println(version)
		return nil
	}})

	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "taskboard: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *observability.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("version", version)
	return cfg, logger, nil
}

// openDatabase connects to postgres and applies pending migrations
func openDatabase(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*postgres.ConnectionManager, *postgres.Store, error) {
	cm, err := postgres.NewConnectionManager(cfg.Postgres(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	pg := postgres.NewStore(cm)
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return cm, pg, nil
}
