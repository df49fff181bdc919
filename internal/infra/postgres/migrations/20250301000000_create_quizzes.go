package migrations

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

// Migrations is the catalog schema, applied by `migrate` and on server start.
var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(inTx(createQuizzesSQL), inTx(`DROP TABLE IF EXISTS quizzes`))
}

// inTx runs a schema statement inside its own transaction so a failed step leaves nothing behind.
func inTx(stmt string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		})
	}
}
