package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"scrapekit/models"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect is a supported SQL flavour
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DefaultSQLitePath is used when neither config nor output names a database file
const DefaultSQLitePath = "scrapekit.db"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	dialect Dialect
	table   string
}

// Open connects to dsn and makes sure the records table exists
func Open(ctx context.Context, dialect Dialect, dsn string, table string) (*DB, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", models.ErrConfiguration, table)
	}

	switch dialect {
	case Postgres:
		if dsn == "" {
			dsn = postgresDSNFromEnv()
		}
	case SQLite:
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
	default:
		return nil, fmt.Errorf("%w: unsupported sql dialect %q", models.ErrConfiguration, dialect)
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, dialect: dialect, table: table}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// postgresDSNFromEnv builds a connection string from DATABASE_URL or the
// individual DB_* variables
func postgresDSNFromEnv() string {
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		return connStr
	}
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "scrapekit")
	password := getEnvOrDefault("DB_PASSWORD", "")
	dbname := getEnvOrDefault("DB_NAME", "scrapekit")
	sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the records table and its indexes if they don't exist
func (db *DB) initSchema(ctx context.Context) error {
	stmts := schemaStatements(db.dialect, db.table)
	if _, err := db.conn.ExecContext(ctx, stmts[0]); err != nil {
		return fmt.Errorf("failed to create %s table: %w", db.table, err)
	}
	for _, stmt := range stmts[1:] {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			log.Printf("Warning: Failed to create index on %s: %v\n", db.table, err)
		}
	}
	return nil
}

func schemaStatements(dialect Dialect, table string) []string {
	id, data := "SERIAL PRIMARY KEY", "JSONB"
	if dialect == SQLite {
		id, data = "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			run_id VARCHAR(36) NOT NULL,
			page_url TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			group_id INTEGER NOT NULL,
			group_index INTEGER NOT NULL,
			element_index INTEGER NOT NULL,
			data %s NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, table, id, data),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_run_id ON %[1]s(run_id)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_page_url ON %[1]s(page_url)`, table),
	}
}

// placeholders returns n bind parameters in the dialect's syntax
func placeholders(dialect Dialect, n int) string {
	ph := make([]string, n)
	for i := range ph {
		if dialect == Postgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}
