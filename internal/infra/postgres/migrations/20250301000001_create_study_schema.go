package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 20250301000001_create_study_schema.sql
var createStudySchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createStudySchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
DROP TABLE IF EXISTS weak_points;
DROP TABLE IF EXISTS test_submissions;
DROP TABLE IF EXISTS test_questions;
DROP TABLE IF EXISTS generated_tests;
DROP TABLE IF EXISTS proctoring_events;
DROP TABLE IF EXISTS study_sessions;
DROP TABLE IF EXISTS content;`)
			return err
		},
	)
}
