package storage

import (
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const minSecretLength = 16

// Encryptor encrypts stored bytes at rest. Every share group gets its own
// key, derived from the master secret with the group ID as salt, and every
// stored file its own XChaCha20 nonce. Ciphertext has the same length as
// plaintext, so size limits apply unchanged.
type Encryptor struct {
	secret []byte
}

// NewEncryptor creates an encryptor from a master secret.
func NewEncryptor(secret string) (*Encryptor, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption key must be at least %d bytes", minSecretLength)
	}
	return &Encryptor{secret: []byte(secret)}, nil
}

func (e *Encryptor) groupKey(groupID string) ([]byte, error) {
	r := hkdf.New(sha256.New, e.secret, []byte(groupID), []byte("fileshare-group-key"))
	key := make([]byte, chacha20.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive group key: %w", err)
	}
	return key, nil
}

func (e *Encryptor) stream(groupID, storedName string) (cipher.Stream, error) {
	key, err := e.groupKey(groupID)
	if err != nil {
		return nil, err
	}

	r := hkdf.New(sha256.New, key, []byte(storedName), []byte("fileshare-file-nonce"))
	nonce := make([]byte, chacha20.NonceSizeX)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to derive nonce: %w", err)
	}

	s, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return s, nil
}

// encryptingWriter returns w wrapped so that everything written is encrypted.
func (e *Encryptor) encryptingWriter(groupID, storedName string, w io.Writer) (io.Writer, error) {
	s, err := e.stream(groupID, storedName)
	if err != nil {
		return nil, err
	}
	return cipher.StreamWriter{S: s, W: w}, nil
}

// decryptingReader returns rc wrapped so that reads yield plaintext.
func (e *Encryptor) decryptingReader(groupID, storedName string, rc io.ReadCloser) (io.ReadCloser, error) {
	s, err := e.stream(groupID, storedName)
	if err != nil {
		return nil, err
	}
	return &streamReadCloser{Reader: cipher.StreamReader{S: s, R: rc}, closer: rc}, nil
}

type streamReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s *streamReadCloser) Close() error {
	return s.closer.Close()
}
