package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultTable 记录已应用版本的表名
const DefaultTable = "hrm_schema_migrations"

// =============================================================================
// 📋 类型定义
// =============================================================================

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// sqlDriver returns the database/sql driver name registered by the
// golang-migrate database packages.
func (t DatabaseType) sqlDriver() string {
	if t == DatabaseTypeSQLite {
		return "sqlite3"
	}
	return string(t)
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint `json:"current_version"`
	Dirty             bool `json:"dirty"`
	TotalMigrations   int  `json:"total_migrations"`
	AppliedMigrations int  `json:"applied_migrations"`
	PendingMigrations int  `json:"pending_migrations"`
}

// Config 迁移器配置
type Config struct {
	DatabaseType DatabaseType
	// DatabaseURL 按方言格式，见 BuildDatabaseURL
	DatabaseURL string
	TableName   string
	LockTimeout time.Duration
}

// Migrator manages the hrm_executions and hrm_knowledge schema.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 🔧 DefaultMigrator
// =============================================================================

// DefaultMigrator 基于 golang-migrate 与内嵌 SQL 文件的实现
type DefaultMigrator struct {
	config  *Config
	migrate *migrate.Migrate
	source  fs.FS
}

// NewMigrator 打开数据库并准备迁移实例
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTable
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	src, err := dialectFS(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.DatabaseType.sqlDriver(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := databaseDriver(cfg, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	sourceDriver, err := iofs.New(src, ".")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(cfg.DatabaseType), driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = cfg.LockTimeout

	return &DefaultMigrator{config: cfg, migrate: m, source: src}, nil
}

func dialectFS(t DatabaseType) (fs.FS, error) {
	switch t {
	case DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite:
		return fs.Sub(migrationsFS, GetMigrationsPath(t))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", t)
	}
}

func databaseDriver(cfg *Config, db *sql.DB) (database.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}

// ignoreNoChange 把 ErrNoChange 视为成功
func ignoreNoChange(op string, err error) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("migration %s failed: %w", op, err)
}

// Up 应用全部待执行迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	return ignoreNoChange("up", m.migrate.Up())
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return ignoreNoChange("down", m.migrate.Steps(-1))
}

// DownAll 回滚全部迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return ignoreNoChange("down all", m.migrate.Down())
}

// Steps applies n migrations, or rolls back -n when n is negative.
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return ignoreNoChange("steps", m.migrate.Steps(n))
}

// Goto 迁移到指定版本
func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return ignoreNoChange("goto", m.migrate.Migrate(version))
}

// Force 强制设置版本号（不执行 SQL），用于修复 dirty 状态
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version returns 0 when nothing has been applied.
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出每个内嵌迁移是否已应用
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.available()
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

// Info 汇总迁移进度
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close 释放 source 与数据库连接
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	sourceErr, dbErr := m.migrate.Close()
	if err := errors.Join(sourceErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

// available parses versions from NNNNNN_name.up.sql files.
func (m *DefaultMigrator) available() ([]migrationFile, error) {
	return listMigrations(m.source)
}

func listMigrations(src fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(rest, ".up.sql"),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// =============================================================================
// 🛠️ 辅助函数
// =============================================================================

// ParseDatabaseType 解析数据库类型字符串
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// BuildDatabaseURL 按方言拼接连接 URL；sqlite 的 database 参数是文件路径
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", database)
	default:
		return ""
	}
}

// GetMigrationsPath 返回方言在内嵌 FS 中的目录
func GetMigrationsPath(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}
