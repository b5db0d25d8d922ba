//go:build !wasm
// +build !wasm

package gorm

import "time"

// CredentialEntryModel is the GORM model for stored entries
type CredentialEntryModel struct {
	Key       string    `gorm:"column:store_key;primaryKey;size:255"`
	Data      []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CredentialEntryModel) TableName() string {
	return "credential_entries"
}
