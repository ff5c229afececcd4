package shared

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs statements without reading rows. *pgxpool.Pool and pgx.Tx
// satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}
