package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panyam/authkit/client"
	"github.com/panyam/authkit/client/stores/crypt"
)

var _ client.Storage = (*Store)(nil)

func TestStore_GetSetEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := New(path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Initially empty
	data, err := store.GetEntry("credentials")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if data != nil {
		t.Errorf("expected nil entry, got %q", data)
	}

	if err := store.SetEntry("credentials", []byte("record")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	data, err = store.GetEntry("credentials")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if string(data) != "record" {
		t.Errorf("GetEntry() = %q, want record", data)
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	store1, err := New(path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store1.SetEntry("a", []byte("1")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}
	if err := store1.SetEntry("b", []byte("2")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	store2, err := New(path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	keys, err := store2.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("ListKeys() = %v, want [a b]", keys)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestStore_DeleteEntry(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.DeleteEntry("missing"); err != nil {
		t.Errorf("DeleteEntry() on missing key error = %v", err)
	}

	store.SetEntry("credentials", []byte("x"))
	if err := store.DeleteEntry("credentials"); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}
	data, _ := store.GetEntry("credentials")
	if data != nil {
		t.Errorf("expected entry to be removed, got %q", data)
	}
}

func TestStore_Sealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	sealer, err := crypt.NewSealer("passphrase", []byte(path))
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	store, err := New(path, "", WithSealer(sealer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.SetEntry("credentials", []byte("top-secret-token")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if bytes.Contains(raw, []byte("top-secret-token")) {
		t.Error("sealed file contains plaintext")
	}

	data, err := store.GetEntry("credentials")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if string(data) != "top-secret-token" {
		t.Errorf("GetEntry() = %q", data)
	}

	// a store without the passphrase refuses the file
	if _, err := New(path, ""); err == nil {
		t.Error("expected error opening sealed file without a sealer")
	}

	wrong, _ := crypt.NewSealer("wrong", []byte(path))
	other, err := New(path, "", WithSealer(wrong))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := other.GetEntry("credentials"); err == nil {
		t.Error("expected error opening entry with the wrong passphrase")
	}
}

func TestStore_Passphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := New(path, "", WithPassphrase("passphrase"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.SetEntry("credentials", []byte("top-secret-token")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	var file entryFile
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !file.Sealed || len(file.Salt) != crypt.SaltSize {
		t.Fatalf("expected a sealed file with a %d byte salt, got sealed=%t salt=%d", crypt.SaltSize, file.Sealed, len(file.Salt))
	}

	// the stored salt is reused, so the same passphrase reads the entry back
	again, err := New(path, "", WithPassphrase("passphrase"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	data, err := again.GetEntry("credentials")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if string(data) != "top-secret-token" {
		t.Errorf("GetEntry() = %q", data)
	}

	wrong, err := New(path, "", WithPassphrase("wrong"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := wrong.GetEntry("credentials"); err == nil {
		t.Error("expected error opening entry with the wrong passphrase")
	}

	// two files with the same passphrase get different salts
	otherPath := filepath.Join(t.TempDir(), "credentials.json")
	other, err := New(otherPath, "", WithPassphrase("passphrase"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := other.SetEntry("credentials", []byte("x")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}
	if bytes.Equal(other.salt, store.salt) {
		t.Error("expected a fresh salt per file")
	}
}

func TestStore_RejectsUnsealedEntriesWithPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	plain, err := New(path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := plain.SetEntry("credentials", []byte("plaintext-record")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	if _, err := New(path, "", WithPassphrase("passphrase")); err == nil {
		t.Error("expected error opening an unsealed file with a passphrase")
	}
	sealer, err := crypt.NewSealer("passphrase", []byte("salt"))
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	if _, err := New(path, "", WithSealer(sealer)); err == nil {
		t.Error("expected error opening an unsealed file with a sealer")
	}

	// once emptied the file can be taken over by a sealed store
	if err := plain.DeleteEntry("credentials"); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}
	sealed, err := New(path, "", WithPassphrase("passphrase"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sealed.SetEntry("credentials", []byte("record")); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}
	if _, err := plain.GetEntry("credentials"); err == nil {
		t.Error("expected the unsealed store to refuse the now sealed file")
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, ""); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestStore_DefaultPath(t *testing.T) {
	path, err := DefaultPath("myapp")
	if err != nil {
		t.Skipf("no config dir available: %v", err)
	}
	if filepath.Base(path) != "credentials.json" || filepath.Base(filepath.Dir(path)) != "myapp" {
		t.Errorf("DefaultPath() = %s", path)
	}
}

func TestStore_ManagerRoundTrip(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m := client.NewCredentialsManager(store, nil, client.WithStoreKey("work"))

	creds := &client.Credentials{
		AccessToken:  "at",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		Scope:        "openid offline_access",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if !m.Store(creds) {
		t.Fatal("Store() failed")
	}

	got, err := m.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if !creds.Equal(got) {
		t.Errorf("Credentials() = %s, want %s", got, creds)
	}
}
