package migration

import (
	"fmt"

	"github.com/BaSui01/hrmflow/config"
)

// NewMigratorFromConfig 从应用配置的 database 段创建迁移器
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig 按驱动拼接 URL 并创建迁移器
func NewMigratorFromDatabaseConfig(db config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(db.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  URLFromConfig(dbType, db),
	})
}

// URLFromConfig builds the golang-migrate URL for db.
func URLFromConfig(dbType DatabaseType, db config.DatabaseConfig) string {
	switch dbType {
	case DatabaseTypeSQLite:
		return BuildDatabaseURL(dbType, "", 0, db.Name, "", "", "")
	case DatabaseTypeMySQL:
		return BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, "")
	default:
		return BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, db.SSLMode)
	}
}

// NewMigratorFromURL 直接使用连接 URL 创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL})
}
