//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore client.Storage.
// It is designed for deployment on Google Cloud Platform and supports
// multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - CredentialEntry: one entity per store key, keyed by name
//
// # Usage
//
//	dsClient, _ := datastore.NewClient(ctx, projectID)
//	store := gae.New(dsClient, "tenant-123")
//	manager := client.NewCredentialsManager(store.WithContext(ctx), authClient)
package gae
