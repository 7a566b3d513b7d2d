// Package postgres implements the internal/store contracts on PostgreSQL.
// Queue claims use a single UPDATE over a FOR UPDATE SKIP LOCKED subquery so
// concurrent workers never receive the same row. The schema is embedded as
// goose migrations.
package postgres
