// Package migrations embeds the SQL schema migrations of the API service.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

// Files holds every .sql file of this directory; they are applied in lexical order (001, 002, ...).
//
//go:embed *.sql
var Files embed.FS

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Apply runs every migration in order and returns how many were applied. Files are idempotent.
func Apply(ctx context.Context, db Execer) (int, error) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return 0, err
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := Files.ReadFile(name)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(data)); err != nil {
			return 0, fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return len(names), nil
}
