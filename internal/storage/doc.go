// Package storage is the relational store behind the pipeline.
//
// It supports two drivers sharing one schema:
//   - "sqlite": a local database file (modernc.org/sqlite, pure Go)
//   - "postgres": a PostgreSQL server through pgx's database/sql driver
//
// Queries are written with '?' placeholders and rebound per dialect.
// Timestamps are stored as unix milliseconds; NULL means "never".
package storage
