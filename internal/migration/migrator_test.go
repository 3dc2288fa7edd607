package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/constraintflow/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"PostgreSQL", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"memory", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: 5432, User: "cf", Password: "p@ss", Name: "prov"}

	assert.Equal(t, "postgres://cf:p%40ss@db:5432/prov?sslmode=require", DatabaseURL(DatabaseTypePostgres, cfg))
	cfg.SSLMode = "disable"
	assert.Equal(t, "postgres://cf:p%40ss@db:5432/prov?sslmode=disable", DatabaseURL(DatabaseTypePostgres, cfg))

	cfg.Port = 3306
	assert.Equal(t, "cf:p@ss@tcp(db:3306)/prov?parseTime=true&multiStatements=true", DatabaseURL(DatabaseTypeMySQL, cfg))

	cfg.Name = "/var/lib/cf.db"
	assert.Equal(t, "file:/var/lib/cf.db?mode=rwc", DatabaseURL(DatabaseTypeSQLite, cfg))
	assert.Empty(t, DatabaseURL("oracle", cfg))
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	assert.ErrorContains(t, err, "unsupported database type")

	_, err = NewMigratorFromConfig(config.DatabaseConfig{Driver: "memory"})
	assert.Error(t, err)
}

func TestAvailable_EmbeddedFilesAreOrderedPerDialect(t *testing.T) {
	for typ, d := range dialects {
		files, err := available(d.dir)
		require.NoError(t, err, typ)
		require.Len(t, files, 2, typ)
		assert.Equal(t, uint(1), files[0].version)
		assert.Equal(t, "create_generation_provenance", files[0].name)
		assert.Equal(t, uint(2), files[1].version)
		assert.Equal(t, "index_constraint_hash", files[1].name)
	}
}

func TestMigrator_SQLite_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("requires cgo sqlite3")
	}
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "prov.db")

	m, err := NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite, DatabaseURL: "file:" + dbPath + "?mode=rwc"})
	require.NoError(t, err)
	defer m.Close()

	v, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second Up is a no-op")

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 0, info.Pending)

	require.NoError(t, m.Down(ctx))
	v, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

// ===== CLI =====

type fakeMigrator struct {
	version uint
	dirty   bool
	steps   []int
}

func (f *fakeMigrator) Up(context.Context) error   { f.version = 2; return nil }
func (f *fakeMigrator) Down(context.Context) error { f.version--; return nil }
func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	f.steps = append(f.steps, n)
	f.version = uint(int(f.version) + n)
	return nil
}
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) { return f.version, f.dirty, nil }
func (f *fakeMigrator) Status(context.Context) ([]Status, error) {
	return []Status{
		{Version: 1, Name: "create_generation_provenance", Applied: f.version >= 1},
		{Version: 2, Name: "index_constraint_hash", Applied: f.version >= 2, Dirty: f.dirty && f.version == 2},
	}, nil
}
func (f *fakeMigrator) Info(ctx context.Context) (*Info, error) {
	st, _ := f.Status(ctx)
	info := &Info{CurrentVersion: f.version, Total: len(st)}
	for _, s := range st {
		if s.Applied {
			info.Applied++
		}
	}
	info.Pending = info.Total - info.Applied
	return info, nil
}
func (f *fakeMigrator) Close() error { return nil }

func TestCLI_Run(t *testing.T) {
	ctx := context.Background()
	fake := &fakeMigrator{}
	var buf bytes.Buffer
	cli := NewCLI(fake, &buf)

	run := func(sub string, args ...string) string {
		t.Helper()
		buf.Reset()
		require.NoError(t, cli.Run(ctx, sub, args))
		return buf.String()
	}

	assert.Equal(t, "version: none\n", run("version"))
	assert.Contains(t, run("up"), "version: 2")

	status := run("status")
	assert.Equal(t, []string{"VERSION", "NAME", "STATE"}, statusRow(status, "VERSION"))
	assert.Equal(t, []string{"000001", "create_generation_provenance", "applied"}, statusRow(status, "000001"))
	assert.Contains(t, status, "2 applied, 0 pending")

	assert.Contains(t, run("down"), "version: 1")

	fake.dirty = true
	out := run("steps", "1")
	assert.Contains(t, out, "moving +1 step(s)")
	assert.Contains(t, out, "version: 2 (dirty)")
	assert.Equal(t, []int{1}, fake.steps)
	assert.Equal(t, []string{"000002", "index_constraint_hash", "dirty"}, statusRow(run("status"), "000002"))
}

// statusRow 返回以 first 开头的状态行的各列
func statusRow(out, first string) []string {
	for _, line := range strings.Split(out, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 && fields[0] == first {
			return fields
		}
	}
	return nil
}

func TestCLI_RunUsageErrors(t *testing.T) {
	cli := NewCLI(&fakeMigrator{}, nil)
	for _, tc := range []struct {
		sub  string
		args []string
	}{
		{sub: "sideways"},
		{sub: "steps"},
		{sub: "steps", args: []string{"0"}},
		{sub: "steps", args: []string{"two"}},
		{sub: "steps", args: []string{"1", "2"}},
	} {
		err := cli.Run(context.Background(), tc.sub, tc.args)
		assert.ErrorIs(t, err, ErrUsage, "%s %v", tc.sub, tc.args)
	}
}
