package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// databaseNamePattern is the only shape of database name SwitchDatabase
// accepts. The name ends up inside a USE statement, which cannot be
// parameterized, so anything outside this class is rejected up front.
var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Session owns the one live connection string. It never holds an open
// connection: every operation opens a fresh *sql.DB from the string it
// captures at start and closes it on every exit path, so concurrent
// callers cannot corrupt each other. Two concurrent SwitchDatabase or
// Replace calls race last-write-wins; that is accepted for a
// single-operator tool and intentionally not serialized beyond the
// mutex needed for safe publication.
type Session struct {
	mu         sync.RWMutex
	connString string

	driver         string
	connectTimeout time.Duration
	log            zerolog.Logger
}

// NewSession creates a session around the given SQL Server connection string.
func NewSession(connString string, log zerolog.Logger) *Session {
	return &Session{
		connString:     connString,
		driver:         "sqlserver",
		connectTimeout: ConnectTimeout,
		log:            log.With().Str("component", "session").Logger(),
	}
}

// ConnectionString returns the currently active connection string.
func (s *Session) ConnectionString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connString
}

// open dials a fresh connection using the current connection string.
// The caller owns the returned handle and must Close it.
func (s *Session) open(ctx context.Context) (*sql.DB, error) {
	return s.openWith(ctx, s.ConnectionString())
}

func (s *Session) openWith(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := sql.Open(s.driver, connString)
	if err != nil {
		return nil, errConnection("invalid connection string", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errConnection("could not reach the database server", err)
	}
	return db, nil
}

// Validate opens a trial connection and runs a round-trip query. Used at
// startup to fail fast on a bad connection string.
func (s *Session) Validate(ctx context.Context) error {
	return s.roundTrip(ctx, s.ConnectionString())
}

func (s *Session) roundTrip(ctx context.Context, connString string) error {
	db, err := s.openWith(ctx, connString)
	if err != nil {
		return err
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errConnection("connection opened but round-trip query failed", err)
	}
	return nil
}

// Replace swaps the stored connection string for newConnString, but only
// after a trial connection and round-trip query succeed. On any failure
// the previous string stays in effect.
func (s *Session) Replace(ctx context.Context, newConnString string) error {
	if strings.TrimSpace(newConnString) == "" {
		return errInvalidArgument("connection string must not be empty")
	}
	if err := s.roundTrip(ctx, newConnString); err != nil {
		return err
	}

	s.mu.Lock()
	s.connString = newConnString
	s.mu.Unlock()

	s.log.Info().Msg("connection string replaced")
	return nil
}

// CurrentDatabase asks the engine which database the session operates on.
func (s *Session) CurrentDatabase(ctx context.Context) (string, error) {
	db, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var name string
	if err := db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&name); err != nil {
		return "", errEngine("could not read current database name", err)
	}
	return name, nil
}

// SwitchDatabase changes which database subsequent operations run against.
// Because every operation opens its own connection, a plain USE would be
// invisible to later calls; the switch therefore rewrites the stored
// connection string's catalog once the target is confirmed to exist.
func (s *Session) SwitchDatabase(ctx context.Context, name string) error {
	if !databaseNamePattern.MatchString(name) {
		return errInvalidArgument(fmt.Sprintf("invalid database name %q: only letters, digits and underscore are allowed", name))
	}

	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var exists int
	err = db.QueryRowContext(ctx,
		"SELECT 1 FROM sys.databases WHERE name = @name",
		sql.Named("name", name)).Scan(&exists)
	if err == sql.ErrNoRows {
		return errNotFound(fmt.Sprintf("database %q does not exist on this server", name))
	}
	if err != nil {
		return errEngine("could not check database catalog", err)
	}

	// Confirm the login can actually enter the database before committing
	// to the switch. Name is validated above; USE cannot be parameterized.
	if _, err := db.ExecContext(ctx, fmt.Sprintf("USE [%s]", name)); err != nil {
		return errEngine(fmt.Sprintf("could not switch to database %q", name), err)
	}

	s.mu.Lock()
	s.connString = setCatalog(s.connString, name)
	s.mu.Unlock()

	s.log.Info().Str("database", name).Msg("switched database")
	return nil
}

// DatabaseInfo is one row of the server's user database catalog.
type DatabaseInfo struct {
	Name          string
	ID            int64
	Created       time.Time
	State         string
	RecoveryModel string
	SizeMB        float64
}

// ListDatabases returns all user databases. The four system databases
// occupy the fixed ids 1-4 and are excluded by that threshold.
func (s *Session) ListDatabases(ctx context.Context) ([]DatabaseInfo, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	const q = `
		SELECT d.name, d.database_id, d.create_date, d.state_desc, d.recovery_model_desc,
		       CAST(SUM(CAST(mf.size AS BIGINT)) * 8.0 / 1024 AS FLOAT) AS size_mb
		FROM sys.databases d
		JOIN sys.master_files mf ON mf.database_id = d.database_id
		WHERE d.database_id > 4
		GROUP BY d.name, d.database_id, d.create_date, d.state_desc, d.recovery_model_desc
		ORDER BY d.name`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, errEngine("could not list databases", err)
	}
	defer rows.Close()

	var out []DatabaseInfo
	for rows.Next() {
		var d DatabaseInfo
		if err := rows.Scan(&d.Name, &d.ID, &d.Created, &d.State, &d.RecoveryModel, &d.SizeMB); err != nil {
			return nil, errEngine("could not scan database row", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errEngine("error iterating databases", err)
	}
	return out, nil
}

// setCatalog rewrites the database/catalog component of a connection
// string. Both forms the driver accepts are handled: semicolon-delimited
// key=value pairs and sqlserver:// URLs.
func setCatalog(connString, database string) string {
	if strings.Contains(connString, "://") {
		u, err := url.Parse(connString)
		if err != nil {
			return connString
		}
		q := u.Query()
		q.Set("database", database)
		u.RawQuery = q.Encode()
		return u.String()
	}

	parts := strings.Split(connString, ";")
	replaced := false
	for i, part := range parts {
		key, _, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "database", "initial catalog":
			parts[i] = strings.TrimSpace(key) + "=" + database
			replaced = true
		}
	}
	if !replaced {
		trimmed := strings.TrimRight(connString, "; ")
		if trimmed == "" {
			return "database=" + database
		}
		return trimmed + ";database=" + database
	}
	return strings.Join(parts, ";")
}
