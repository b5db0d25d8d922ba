//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/authkit/client/stores/crypt"
)

// KindCredentialEntry is the Datastore kind used for entries
const KindCredentialEntry = "CredentialEntry"

// CredentialEntryEntity is the Datastore entity for a stored entry
type CredentialEntryEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Data      []byte         `datastore:"data,noindex"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}

// Store implements client.Storage using Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string
	ctx       context.Context
	sealer    *crypt.Sealer
}

// Option configures a Store
type Option func(*Store)

// WithSealer encrypts entries before they are written to Datastore
func WithSealer(sealer *crypt.Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

// New creates a Datastore-backed store in namespace ("" is the default namespace)
func New(client *datastore.Client, namespace string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		namespace: namespace,
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithContext returns a copy of the store with the given context
func (s *Store) WithContext(ctx context.Context) *Store {
	out := *s
	out.ctx = ctx
	return &out
}

func (s *Store) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindCredentialEntry, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) GetEntry(key string) ([]byte, error) {
	var entity CredentialEntryEntity
	if err := s.client.Get(s.ctx, s.namespacedKey(key), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, err
	}
	if s.sealer == nil {
		return entity.Data, nil
	}
	data, err := s.sealer.Open(entity.Data, []byte(key))
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
	dsKey := s.namespacedKey(key)
	entity := &CredentialEntryEntity{
		Key:       dsKey,
		Data:      data,
		UpdatedAt: time.Now(),
	}
	_, err := s.client.Put(s.ctx, dsKey, entity)
	return err
}

// DeleteEntry removes key; Datastore treats deleting a missing key as success
func (s *Store) DeleteEntry(key string) error {
	return s.client.Delete(s.ctx, s.namespacedKey(key))
}

// ListKeys returns the names of all entries in the namespace
func (s *Store) ListKeys() ([]string, error) {
	query := datastore.NewQuery(KindCredentialEntry).KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var keys []string
	it := s.client.Run(s.ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key.Name)
	}
	return keys, nil
}
