//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/authkit/client/stores/crypt"
)

// AutoMigrate creates or updates the credential_entries table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialEntryModel{})
}

// Store implements client.Storage using GORM
type Store struct {
	db     *gorm.DB
	sealer *crypt.Sealer
}

// Option configures a Store
type Option func(*Store)

// WithSealer encrypts entries before they are written to the database
func WithSealer(sealer *crypt.Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetEntry(key string) ([]byte, error) {
	var model CredentialEntryModel
	if err := s.db.First(&model, "store_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if s.sealer == nil {
		return model.Data, nil
	}
	data, err := s.sealer.Open(model.Data, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) SetEntry(key string, data []byte) error {
	if s.sealer != nil {
		var err error
		if data, err = s.sealer.Seal(data, []byte(key)); err != nil {
			return err
		}
	}
	model := &CredentialEntryModel{Key: key, Data: data}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(model).Error
}

func (s *Store) DeleteEntry(key string) error {
	return s.db.Delete(&CredentialEntryModel{}, "store_key = ?", key).Error
}

func (s *Store) ListKeys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&CredentialEntryModel{}).Order("store_key").Pluck("store_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
