//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed client.Storage.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits server-side deployments that keep delegated user credentials in a
// relational database.
//
// # Database Schema
//
// The package auto-migrates a single table:
//   - credential_entries: one row per store key holding the encoded record
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.New(db)
//	manager := client.NewCredentialsManager(store, authClient, client.WithStoreKey("user-42"))
package gorm
