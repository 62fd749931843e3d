package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/missionflow/config"
	"github.com/BaSui01/missionflow/internal/migration"
)

// =============================================================================
// 数据库迁移命令（只作用于 sql 文档存储）
// =============================================================================

// migrateAction 执行一个迁移子命令，positional 是 flag 之前的位置参数
type migrateAction struct {
	positional int
	usage      string
	run        func(ctx context.Context, cli *migration.CLI, pos []string) error
}

var migrateActions = map[string]migrateAction{
	"up": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunUp(ctx)
	}},
	"down": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDown(ctx)
	}},
	"reset": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDownAll(ctx)
	}},
	"status": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunStatus(ctx)
	}},
	"version": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunVersion(ctx)
	}},
	"steps": {positional: 1, usage: "missionflow migrate steps <n>", run: func(ctx context.Context, cli *migration.CLI, pos []string) error {
		n, err := strconv.Atoi(pos[0])
		if err != nil {
			return fmt.Errorf("invalid step count: %s", pos[0])
		}
		return cli.RunSteps(ctx, n)
	}},
	"goto": {positional: 1, usage: "missionflow migrate goto <version>", run: func(ctx context.Context, cli *migration.CLI, pos []string) error {
		v, err := strconv.ParseUint(pos[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", pos[0])
		}
		return cli.RunGoto(ctx, uint(v))
	}},
	"force": {positional: 1, usage: "missionflow migrate force <version>", run: func(ctx context.Context, cli *migration.CLI, pos []string) error {
		v, err := strconv.ParseInt(pos[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", pos[0])
		}
		return cli.RunForce(ctx, int(v))
	}},
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) int {
	if len(args) < 1 {
		printMigrateUsage()
		return 1
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage()
		return 0
	}
	action, ok := migrateActions[sub]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		return 1
	}

	rest := args[1:]
	if len(rest) < action.positional {
		fmt.Fprintf(os.Stderr, "Usage: %s\n", action.usage)
		return 1
	}
	pos, flags := rest[:action.positional], rest[action.positional:]

	migrator, err := createMigrator(flag.NewFlagSet("migrate "+sub, flag.ContinueOnError), flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer migrator.Close()

	if err := action.run(context.Background(), migration.NewCLI(migrator), pos); err != nil {
		fmt.Fprintf(os.Stderr, "Migrate %s failed: %v\n", sub, err)
		return 1
	}
	return 0
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite, sqlite3)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  missionflow migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  version     Show current migration version
  reset       Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite, sqlite3 (default: from config)
  --db-url <url>      Database connection URL (default: from config)`)
}
