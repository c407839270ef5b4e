package migration

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/BaSui01/hrmflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"MariaDB", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestURLFromConfig(t *testing.T) {
	db := config.DefaultDatabaseConfig()
	db.Host, db.Port, db.User, db.Password, db.Name, db.SSLMode = "db", 5432, "hrm", "pw", "hrm", "disable"

	assert.Equal(t, "postgres://hrm:pw@db:5432/hrm?sslmode=disable", URLFromConfig(DatabaseTypePostgres, db))

	db.Port = 3306
	assert.Equal(t, "hrm:pw@tcp(db:3306)/hrm?parseTime=true&multiStatements=true", URLFromConfig(DatabaseTypeMySQL, db))

	db.Name = "/var/lib/hrm.db"
	assert.Equal(t, "file:/var/lib/hrm.db?mode=rwc&_foreign_keys=on", URLFromConfig(DatabaseTypeSQLite, db))
}

func TestBuildDatabaseURL_DefaultSSLMode(t *testing.T) {
	got := BuildDatabaseURL(DatabaseTypePostgres, "localhost", 5432, "hrm", "u", "p", "")
	assert.Equal(t, "postgres://u:p@localhost:5432/hrm?sslmode=require", got)
	assert.Empty(t, BuildDatabaseURL("oracle", "", 0, "", "", "", ""))
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dt), func(t *testing.T) {
			src, err := dialectFS(dt)
			require.NoError(t, err)

			files, err := listMigrations(src)
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, uint(1), files[0].version)
			assert.Equal(t, "create_hrm_executions", files[0].name)
			assert.Equal(t, "create_hrm_knowledge", files[1].name)
		})
	}

	_, err := dialectFS("oracle")
	assert.Error(t, err)
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestMigrator_SQLiteIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("requires cgo sqlite3")
	}

	dbPath := filepath.Join(t.TempDir(), "hrm.db")
	m, err := NewMigratorFromURL("sqlite", BuildDatabaseURL(DatabaseTypeSQLite, "", 0, dbPath, "", "", ""))
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	v, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second up is a no-op")

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 0, info.PendingMigrations)

	require.NoError(t, m.Down(ctx))
	v, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, m.DownAll(ctx))
	v, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
}

// =============================================================================
// 🧪 CLI 输出测试
// =============================================================================

type fakeMigrator struct {
	version  uint
	dirty    bool
	statuses []MigrationStatus
	upErr    error
}

func (f *fakeMigrator) Up(context.Context) error {
	if f.upErr != nil {
		return f.upErr
	}
	f.version = 2
	return nil
}
func (f *fakeMigrator) Down(context.Context) error { f.version--; return nil }
func (f *fakeMigrator) DownAll(context.Context) error { f.version = 0; return nil }
func (f *fakeMigrator) Steps(_ context.Context, n int) error { f.version = uint(int(f.version) + n); return nil }
func (f *fakeMigrator) Goto(_ context.Context, v uint) error { f.version = v; return nil }
func (f *fakeMigrator) Force(_ context.Context, v int) error { f.version = uint(v); return nil }
func (f *fakeMigrator) Close() error { return nil }
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) {
	return f.version, f.dirty, nil
}
func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) {
	return f.statuses, nil
}
func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) {
	return &MigrationInfo{CurrentVersion: f.version, Dirty: f.dirty}, nil
}

func newTestCLI(m Migrator) (*CLI, *bytes.Buffer) {
	var buf bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&buf)
	return cli, &buf
}

func TestCLI_RunUp(t *testing.T) {
	cli, out := newTestCLI(&fakeMigrator{})
	require.NoError(t, cli.RunUp(context.Background()))
	assert.Contains(t, out.String(), "Migrations complete. Current version: 2")

	cli, _ = newTestCLI(&fakeMigrator{upErr: errors.New("locked")})
	assert.ErrorContains(t, cli.RunUp(context.Background()), "locked")
}

func TestCLI_RunVersion(t *testing.T) {
	cli, out := newTestCLI(&fakeMigrator{})
	require.NoError(t, cli.RunVersion(context.Background()))
	assert.Contains(t, out.String(), "No migrations applied yet")

	cli, out = newTestCLI(&fakeMigrator{version: 1, dirty: true})
	require.NoError(t, cli.RunVersion(context.Background()))
	assert.Contains(t, out.String(), "Current version: 1 (dirty)")
}

func TestCLI_RunStatus(t *testing.T) {
	cli, out := newTestCLI(&fakeMigrator{statuses: []MigrationStatus{
		{Version: 1, Name: "create_hrm_executions", Applied: true},
		{Version: 2, Name: "create_hrm_knowledge"},
	}})
	require.NoError(t, cli.RunStatus(context.Background()))

	s := out.String()
	assert.Contains(t, s, "000001")
	assert.Contains(t, s, "Applied")
	assert.Contains(t, s, "Pending")
	assert.Contains(t, s, "Total: 2, Applied: 1, Pending: 1")
}

func TestCLI_RunStepsAndForce(t *testing.T) {
	f := &fakeMigrator{version: 2}
	cli, out := newTestCLI(f)
	require.NoError(t, cli.RunSteps(context.Background(), -1))
	assert.Contains(t, out.String(), "Rolling back 1 migration(s)")
	assert.Equal(t, uint(1), f.version)

	require.NoError(t, cli.RunForce(context.Background(), 2))
	assert.Contains(t, out.String(), "Version forced to 2")

	require.NoError(t, cli.RunDownAll(context.Background()))
	assert.Zero(t, f.version)
}
