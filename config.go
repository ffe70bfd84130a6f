package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultMaxRows      = 1000
	ConnectTimeout      = 10 * time.Second
)

// Config is the process configuration, read once at startup. Only the
// connection string can change afterwards (via the change_connection_string
// tool); policy fields stay fixed for the process lifetime.
type Config struct {
	ConnectionString string
	QueryTimeout     time.Duration
	MaxRows          int
	Policy           Policy
}

// LoadConfig builds the configuration from environment variables.
// MCP_MSSQL_CONNECTION_STRING wins when set; otherwise the connection
// string is assembled from MCP_MSSQL_HOST/PORT/USER/PASSWORD/DATABASE.
func LoadConfig() (*Config, error) {
	conn := os.Getenv("MCP_MSSQL_CONNECTION_STRING")
	if conn == "" {
		var err error
		conn, err = buildConnectionString()
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		ConnectionString: conn,
		QueryTimeout:     DefaultQueryTimeout,
		MaxRows:          DefaultMaxRows,
		Policy: Policy{
			ReadOnly:           envBool("MCP_MSSQL_READ_ONLY", true),
			AllowProcedures:    envBool("MCP_MSSQL_ALLOW_PROCEDURES", false),
			ProcedureAllowlist: splitAllowlist(os.Getenv("MCP_MSSQL_PROCEDURE_ALLOWLIST")),
			AllowFunctions:     envBool("MCP_MSSQL_ALLOW_FUNCTIONS", false),
		},
	}

	if v := os.Getenv("MCP_MSSQL_QUERY_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid MCP_MSSQL_QUERY_TIMEOUT %q: expected positive seconds", v)
		}
		cfg.QueryTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("MCP_MSSQL_MAX_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MCP_MSSQL_MAX_ROWS %q: expected positive integer", v)
		}
		cfg.MaxRows = n
	}

	return cfg, nil
}

func buildConnectionString() (string, error) {
	host := os.Getenv("MCP_MSSQL_HOST")
	port := os.Getenv("MCP_MSSQL_PORT")
	user := os.Getenv("MCP_MSSQL_USER")
	password := os.Getenv("MCP_MSSQL_PASSWORD")
	database := os.Getenv("MCP_MSSQL_DATABASE")

	var missing []string
	if host == "" {
		missing = append(missing, "MCP_MSSQL_HOST")
	}
	if user == "" {
		missing = append(missing, "MCP_MSSQL_USER")
	}
	if password == "" {
		missing = append(missing, "MCP_MSSQL_PASSWORD")
	}
	if database == "" {
		missing = append(missing, "MCP_MSSQL_DATABASE")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variables: %v (or set MCP_MSSQL_CONNECTION_STRING)", missing)
	}
	if port == "" {
		port = "1433"
	}

	return fmt.Sprintf("server=%s;port=%s;user id=%s;password=%s;database=%s",
		host, port, user, password, database), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func splitAllowlist(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
