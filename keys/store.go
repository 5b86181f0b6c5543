package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// KeyNotFoundError reports a key id absent from a store.
type KeyNotFoundError struct{ ID string }

func (e *KeyNotFoundError) Error() string { return fmt.Sprintf("key %s does not exist", e.ID) }

// WrongSignatureError reports a signature that does not verify under the
// stored key.
type WrongSignatureError struct{ ID string }

func (e *WrongSignatureError) Error() string {
	return fmt.Sprintf("provided signature cannot be verified with key %s", e.ID)
}

// ExpiredSignatureError reports a payload past its validity window.
type ExpiredSignatureError struct {
	ValidUntil time.Time
	Now        time.Time
}

func (e *ExpiredSignatureError) Error() string {
	return fmt.Sprintf("signature expired on %s, system time: %s", e.ValidUntil, e.Now)
}

// PayloadDecodeError reports an authenticated payload whose body could not
// be decoded.
type PayloadDecodeError struct{ Err error }

func (e *PayloadDecodeError) Error() string { return fmt.Sprintf("cannot decode payload: %v", e.Err) }
func (e *PayloadDecodeError) Unwrap() error { return e.Err }

// KeyEncodingError reports key material that is not valid base64 or has the
// wrong length.
type KeyEncodingError struct {
	ID  string
	Err error
}

func (e *KeyEncodingError) Error() string { return fmt.Sprintf("wrong encoding for key %s: %v", e.ID, e.Err) }
func (e *KeyEncodingError) Unwrap() error { return e.Err }

// Store holds named Ed25519 public keys and verifies signatures against
// them. Implementations are safe for concurrent use.
type Store interface {
	// RegisterKey stores key bytes under id, replacing any previous key.
	RegisterKey(id string, key []byte) error
	// Verify checks that signature is a valid signature of message by the
	// key stored under id. It returns *KeyNotFoundError when the id is
	// unknown and *WrongSignatureError when verification fails.
	Verify(id string, message, signature []byte) error
	// ListAll returns a copy of all stored keys.
	ListAll() (map[string][]byte, error)
	// RemoveKey deletes and returns the key stored under id.
	RemoveKey(id string) ([]byte, error)
	// HasKey reports whether id is stored with exactly these key bytes.
	HasKey(id string, key []byte) (bool, error)
}

func verifySignature(key []byte, id string, message, signature []byte) error {
	if len(key) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(key), message, signature) {
		return &WrongSignatureError{ID: id}
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: map[string][]byte{}}
}

func (s *MemoryStore) RegisterKey(id string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = append([]byte(nil), key...)
	return nil
}

func (s *MemoryStore) Verify(id string, message, signature []byte) error {
	s.mu.RLock()
	key, ok := s.keys[id]
	s.mu.RUnlock()
	if !ok {
		return &KeyNotFoundError{ID: id}
	}
	return verifySignature(key, id, message, signature)
}

func (s *MemoryStore) ListAll() (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.keys))
	for id, key := range s.keys {
		out[id] = append([]byte(nil), key...)
	}
	return out, nil
}

func (s *MemoryStore) RemoveKey(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, &KeyNotFoundError{ID: id}
	}
	delete(s.keys, id)
	return key, nil
}

func (s *MemoryStore) HasKey(id string, key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.keys[id]
	return ok && string(stored) == string(key), nil
}

// RegisterBase64Keys loads a config-style map of id to base64-encoded
// public key into the store.
func RegisterBase64Keys(s Store, m map[string]string) error {
	for id, encoded := range m {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return &KeyEncodingError{ID: id, Err: err}
		}
		if err := s.RegisterKey(id, key); err != nil {
			return err
		}
	}
	return nil
}

// ListBase64 renders a store's content the way configs spell it, id to
// base64-encoded public key.
func ListBase64(s Store) (map[string]string, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for id, key := range all {
		out[id] = base64.StdEncoding.EncodeToString(key)
	}
	return out, nil
}
