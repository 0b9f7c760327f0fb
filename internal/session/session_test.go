package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association-chat/internal/models"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage.json")
	store := NewFileStore(path)

	_, err := Load(store)
	assert.ErrorIs(t, err, ErrNoSession)

	want := Session{Token: "tok", User: models.Counterpart{ID: 4, Name: "Rui", Role: models.RoleStaff}}
	require.NoError(t, Save(store, want))
	require.NoError(t, store.Set("association.theme", "dark"))

	got, err := Load(NewFileStore(path))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, Clear(store))
	_, err = Load(store)
	assert.ErrorIs(t, err, ErrNoSession)

	var theme string
	ok, err := store.Get("association.theme", &theme)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", theme)
}

func TestLoadRejectsEmptyToken(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "storage.json"))
	require.NoError(t, Save(store, Session{User: models.Counterpart{ID: 1}}))

	_, err := Load(store)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(NewFileStore(path))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}
