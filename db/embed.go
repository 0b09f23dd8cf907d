// Package db provides the embedded schema migrations and seed data.
package db

import "embed"

// Migrations holds the golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Seed holds the default catalog used by cmd/seed-db and in-memory mode.
//
//go:embed seed/*.json
var Seed embed.FS
