package config

import (
	"os"
	"strconv"
	"strings"
)

const defaultConnectionString = "Host=localhost;Port=5432;Database=ledger_core_db;Username=postgres;Password=postgres;Timeout=30;CommandTimeout=30"
const defaultMigrationsDir = "migrations"
const defaultWorkflowQueueSize = 64
const defaultWorkflowWorkers = 4

type Config struct {
	DatabaseDSN       string
	MigrationsDir     string
	WorkflowQueueSize int
	WorkflowWorkers   int
}

func Load() (Config, error) {
	conn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if conn == "" {
		conn = defaultConnectionString
	}

	migrationsDir := strings.TrimSpace(os.Getenv("MIGRATIONS_DIR"))
	if migrationsDir == "" {
		migrationsDir = defaultMigrationsDir
	}

	return Config{
		DatabaseDSN:       normalizeConnectionString(conn),
		MigrationsDir:     migrationsDir,
		WorkflowQueueSize: intFromEnv("WORKFLOW_QUEUE_SIZE", defaultWorkflowQueueSize),
		WorkflowWorkers:   intFromEnv("WORKFLOW_WORKERS", defaultWorkflowWorkers),
	}, nil
}

func intFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func normalizeConnectionString(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	hasSSLMode := false

	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}

		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])

		switch key {
		case "host":
			out = append(out, "host="+val)
		case "port":
			out = append(out, "port="+val)
		case "database":
			out = append(out, "dbname="+val)
		case "username":
			out = append(out, "user="+val)
		case "password":
			out = append(out, "password="+val)
		case "timeout", "connect timeout":
			out = append(out, "connect_timeout="+val)
		case "commandtimeout", "command timeout":
			out = append(out, "statement_timeout="+val+"s")
		case "sslmode":
			hasSSLMode = true
			out = append(out, "sslmode="+val)
		default:
			out = append(out, key+"="+val)
		}
	}

	if len(out) == 0 {
		return raw
	}

	if !hasSSLMode {
		out = append(out, "sslmode=disable")
	}

	return strings.Join(out, " ")
}
