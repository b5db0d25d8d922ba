package memory

import (
	"context"
	"testing"
	"time"

	"github.com/panyam/authkit/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ client.Storage = (*Store)(nil)

func TestStore_GetSetDelete(t *testing.T) {
	s := New()

	data, err := s.GetEntry("credentials")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SetEntry("credentials", []byte("one")))
	require.NoError(t, s.SetEntry("other", []byte("two")))

	data, err = s.GetEntry("credentials")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	// returned slices are copies
	data[0] = 'X'
	again, _ := s.GetEntry("credentials")
	assert.Equal(t, []byte("one"), again)

	keys, err := s.ListKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"credentials", "other"}, keys)

	require.NoError(t, s.DeleteEntry("credentials"))
	require.NoError(t, s.DeleteEntry("missing"))
	data, err = s.GetEntry("credentials")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestStore_WithManager(t *testing.T) {
	s := New()
	m := client.NewCredentialsManager(s, nil)

	creds := &client.Credentials{
		AccessToken:  "at",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.True(t, m.Store(creds))
	assert.True(t, m.HasValid())

	got, err := m.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)

	require.True(t, m.Clear())
	keys, _ := s.ListKeys()
	assert.Empty(t, keys)
}
