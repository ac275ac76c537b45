// Package repository wires the PostgreSQL persistence layer: schema
// migrations plus one sub-package per aggregate.
package repository

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/dbpg"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies pending schema migrations against the master database.
func Migrate(db *dbpg.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db.Master, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
