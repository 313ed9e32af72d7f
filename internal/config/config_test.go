package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.True(t, cfg.Engine.AuditEnabled)
	assert.False(t, cfg.Engine.FailClosedPermissions)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entityflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  name: shop
  path: /var/lib/entityflow
engine:
  fail_closed_permissions: true
`), 0o644))
	t.Setenv("ENTITYFLOW_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Database.IsSQLite())
	assert.Equal(t, "/var/lib/entityflow/shop.db", cfg.Database.DSN())
	assert.True(t, cfg.Engine.FailClosedPermissions)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "app"}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", User: "u", Password: "p", Host: "db", Port: 3306, Name: "app"}
	assert.Equal(t, "u:p@tcp(db:3306)/app?parseTime=true", my.DSN())
}
