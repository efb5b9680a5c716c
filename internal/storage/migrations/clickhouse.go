package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	chstore "solana-pool-watch/internal/storage/clickhouse"
)

type chMigration struct {
	file  string
	stmts []string
}

// RunClickhouseMigrations creates the DSN's database if needed, applies every
// embedded ClickHouse file and returns a connection to that database along
// with the files applied. All files are parsed before anything is executed.
func RunClickhouseMigrations(ctx context.Context, dsn string) (conn *chstore.Conn, applied []string, err error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, nil, err
	}

	pending, err := loadClickhouseMigrations(ClickhouseFS)
	if err != nil {
		return nil, nil, err
	}

	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, nil, err
	}

	conn, err = chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	defer func() {
		if err != nil {
			conn.Close()
			conn = nil
		}
	}()

	for _, m := range pending {
		// the native driver runs one statement per Exec
		for _, stmt := range m.stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, applied, fmt.Errorf("apply migration %s: %w", m.file, err)
			}
		}
		applied = append(applied, m.file)
	}
	return conn, applied, nil
}

func createDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+dbName+"`"); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

func loadClickhouseMigrations(fsys fs.FS) ([]chMigration, error) {
	files, err := sqlFiles(fsys, "clickhouse")
	if err != nil {
		return nil, err
	}

	out := make([]chMigration, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", file, err)
		}
		if len(stmts) > 0 {
			out = append(out, chMigration{file: file, stmts: stmts})
		}
	}
	return out, nil
}

// splitStatements splits on semicolons outside single-quoted literals and
// drops -- line comments outside literals.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts    []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inString:
			cur.WriteByte(c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
					continue
				}
				inString = false
			}
		case c == '\'':
			inString = true
			cur.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}

	if inString {
		return nil, errors.New("unterminated string literal")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn missing database")
	}
	if strings.ContainsAny(db, "`/") {
		return "", fmt.Errorf("invalid clickhouse database name %q", db)
	}
	return db, nil
}
