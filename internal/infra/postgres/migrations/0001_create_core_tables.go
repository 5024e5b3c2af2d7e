package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0001_create_core_tables.sql
var createCoreTablesSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createCoreTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`DROP TABLE IF EXISTS private_participants;
				DROP TABLE IF EXISTS waitlist_entries;
				DROP TABLE IF EXISTS live_sessions;
				DROP TABLE IF EXISTS quizzes`)
			return err
		},
	)
}
