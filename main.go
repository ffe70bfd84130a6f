package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	_ "github.com/denisenkom/go-mssqldb"
)

const (
	serverName    = "mssql-mcp"
	serverVersion = "1.3.0"
)

const serverInstructions = `SQL Server access with policy enforcement. In read-only mode only
statements that do not start with a mutation keyword are accepted; stored
procedures additionally require explicit enablement and, when configured,
an allowlist match. Result sets are capped and report truncation.`

func main() {
	// MCP talks JSON-RPC on stdout; everything human goes to stderr.
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	session := NewSession(cfg.ConnectionString, log)

	ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()
	if err := session.Validate(ctx); err != nil {
		log.Error().Err(err).Msg("initial connection failed")
		os.Exit(1)
	}

	if db, err := session.CurrentDatabase(ctx); err == nil {
		log.Info().
			Str("database", db).
			Bool("read_only", cfg.Policy.ReadOnly).
			Bool("procedures", cfg.Policy.AllowProcedures).
			Msg("connected")
	}

	exec := NewExecutor(session, &cfg.Policy, cfg, log)

	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)
	RegisterTools(s, session, exec)

	log.Info().Str("version", serverVersion).Msg("serving on stdio")
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
