package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncryptor(t *testing.T) {
	_, err := NewEncryptor("short")
	assert.Error(t, err)

	e, err := NewEncryptor("0123456789abcdef")
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestEncryptedRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("a-long-enough-master-secret")
	require.NoError(t, err)

	store, dir := newTestStore(t)
	store.WithEncryption(enc)
	_, g := newPendingGroup(t)

	plaintext := strings.Repeat("confidential payload ", 20)
	rec, err := store.Save(context.Background(), strings.NewReader(plaintext), "secret.txt", g)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plaintext)), rec.Size)

	onDisk, err := os.ReadFile(filepath.Join(dir, rec.StoredName))
	require.NoError(t, err)
	assert.Len(t, onDisk, len(plaintext))
	assert.NotEqual(t, plaintext, string(onDisk))

	obj, err := store.Open(g.ID, rec.StoredName)
	require.NoError(t, err)
	defer obj.Close()

	_, seekable := obj.ReadCloser.(io.ReadSeeker)
	assert.False(t, seekable)

	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, plaintext, string(got))
}

func TestEncryptor_KeysDifferPerGroup(t *testing.T) {
	enc, err := NewEncryptor("a-long-enough-master-secret")
	require.NoError(t, err)

	a, err := enc.groupKey("1700000000_aaaaaaaaaaa")
	require.NoError(t, err)
	b, err := enc.groupKey("1700000000_bbbbbbbbbbb")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
