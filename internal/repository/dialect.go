package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/mulewatch/internal/domain"
	_ "modernc.org/sqlite"
)

// dialect is what differs between the two supported databases. Queries are
// written with '?' placeholders and rebound per dialect.
type dialect struct {
	driver   string
	numbered bool // $1, $2, ... instead of ?
}

var (
	sqliteDialect   = dialect{driver: "sqlite"}
	postgresDialect = dialect{driver: "postgres", numbered: true}
)

// open connects to the configured database and verifies it answers.
func open(cfg domain.RepositoryConfig) (*sql.DB, dialect, error) {
	var (
		d   dialect
		dsn string
	)
	switch cfg.Driver {
	case "sqlite":
		d = sqliteDialect
		path := cfg.SQLitePath
		if path == "" {
			path = "./mulewatch.db"
		}
		if !inMemory(path) {
			if dir := filepath.Dir(path); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, d, fmt.Errorf("failed to create database directory: %w", err)
				}
			}
		}
		dsn = sqliteDSN(path)
	case "postgres":
		d = postgresDialect
		dsn = postgresDSN(cfg)
	default:
		return nil, d, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, d, fmt.Errorf("failed to open %s database: %w", d.driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, d, fmt.Errorf("failed to ping %s database: %w", d.driver, err)
	}
	return db, d, nil
}

func inMemory(path string) bool {
	return path == ":memory:"
}

// sqliteDSN builds a modernc.org/sqlite connection string. File databases
// run in WAL mode; an in-memory database lives only as long as its single
// connection.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(ON)")
	q.Add("_pragma", "busy_timeout(5000)")
	if inMemory(path) {
		return "file::memory:?" + q.Encode()
	}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// postgresDSN returns cfg.PostgresURL when set, otherwise a lib/pq
// key=value string with every value quoted.
func postgresDSN(cfg domain.RepositoryConfig) string {
	if cfg.PostgresURL != "" {
		return cfg.PostgresURL
	}

	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "mulewatch"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + pqQuote(host),
		"port=" + strconv.Itoa(port),
		"dbname=" + pqQuote(dbname),
		"sslmode=" + pqQuote(sslmode),
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, "user="+pqQuote(cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, "password="+pqQuote(cfg.PostgresPassword))
	}
	return strings.Join(parts, " ")
}

func pqQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// rebind rewrites '?' placeholders for numbered dialects. Queries here never
// contain a literal '?'.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
