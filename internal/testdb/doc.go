//go:build integration

// Package testdb starts a disposable PostgreSQL container for integration
// tests, applies the embedded migrations and seeds collaborator rows.
package testdb
