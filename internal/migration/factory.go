package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/missionflow/config"
)

// NewMigratorFromConfig creates a migrator for the SQL document store.
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from database configuration
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	cfg, err := configFromDatabase(dbCfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(cfg)
}

func configFromDatabase(dbCfg appconfig.DatabaseConfig) (*Config, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	cfg := &Config{DatabaseType: dbType, TableName: "schema_migrations"}
	switch dbType {
	case DatabaseTypePostgres:
		cfg.DatabaseURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		cfg.DatabaseURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		// Name 是文件路径
		cfg.DatabaseURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
		if dbCfg.Driver == "sqlite3" {
			cfg.SQLDriver = "sqlite3"
		}
	}
	return cfg, nil
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
