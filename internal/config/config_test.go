package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("MIGRATIONS_DIR", "")
	t.Setenv("WORKFLOW_QUEUE_SIZE", "")
	t.Setenv("WORKFLOW_WORKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.DatabaseDSN, "dbname=ledger_core_db")
	assert.Contains(t, cfg.DatabaseDSN, "sslmode=disable")
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, defaultWorkflowQueueSize, cfg.WorkflowQueueSize)
	assert.Equal(t, defaultWorkflowWorkers, cfg.WorkflowWorkers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DSN", "Host=db;Port=5433;Database=ledger;Username=svc;Password=pw;SSLMode=require")
	t.Setenv("MIGRATIONS_DIR", "db/migrations")
	t.Setenv("WORKFLOW_QUEUE_SIZE", "128")
	t.Setenv("WORKFLOW_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "host=db port=5433 dbname=ledger user=svc password=pw sslmode=require", cfg.DatabaseDSN)
	assert.Equal(t, "db/migrations", cfg.MigrationsDir)
	assert.Equal(t, 128, cfg.WorkflowQueueSize)
	assert.Equal(t, 8, cfg.WorkflowWorkers)
}

func TestIntFromEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("WORKFLOW_WORKERS", "not-a-number")
	assert.Equal(t, 4, intFromEnv("WORKFLOW_WORKERS", 4))

	t.Setenv("WORKFLOW_WORKERS", "-2")
	assert.Equal(t, 4, intFromEnv("WORKFLOW_WORKERS", 4))
}

func TestNormalizeConnectionStringMapsKeys(t *testing.T) {
	dsn := normalizeConnectionString("Host=localhost;Port=5432;Database=d;Username=u;Password=p;Timeout=30;CommandTimeout=45")

	assert.Contains(t, dsn, "connect_timeout=30")
	assert.Contains(t, dsn, "statement_timeout=45s")
	assert.Contains(t, dsn, "sslmode=disable")
}
