package keys

import (
	"encoding/base64"

	"github.com/siderant/funtonic/yamlstore"
)

// FileStore is a Store persisted as a YAML file of id to base64-encoded
// public key. Every mutation is saved before it returns.
type FileStore struct {
	db *yamlstore.DB[string]
}

// OpenFileStore opens (or creates) the store backed by path.
func OpenFileStore(path string) (*FileStore, error) {
	db, err := yamlstore.Open[string](path)
	if err != nil {
		return nil, err
	}
	return &FileStore{db: db}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.db.Path() }

func (s *FileStore) RegisterKey(id string, key []byte) error {
	return s.db.Update(func(data map[string]string) error {
		data[id] = base64.StdEncoding.EncodeToString(key)
		return nil
	})
}

func (s *FileStore) Verify(id string, message, signature []byte) error {
	encoded, ok := s.db.Get(id)
	if !ok {
		return &KeyNotFoundError{ID: id}
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &KeyEncodingError{ID: id, Err: err}
	}
	return verifySignature(key, id, message, signature)
}

func (s *FileStore) ListAll() (map[string][]byte, error) {
	var out map[string][]byte
	var firstErr error
	s.db.View(func(data map[string]string) {
		out = make(map[string][]byte, len(data))
		for id, encoded := range data {
			key, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				if firstErr == nil {
					firstErr = &KeyEncodingError{ID: id, Err: err}
				}
				continue
			}
			out[id] = key
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (s *FileStore) RemoveKey(id string) ([]byte, error) {
	var removed []byte
	err := s.db.Update(func(data map[string]string) error {
		encoded, ok := data[id]
		if !ok {
			return &KeyNotFoundError{ID: id}
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return &KeyEncodingError{ID: id, Err: err}
		}
		removed = key
		delete(data, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *FileStore) HasKey(id string, key []byte) (bool, error) {
	encoded, ok := s.db.Get(id)
	if !ok {
		return false, nil
	}
	return encoded == base64.StdEncoding.EncodeToString(key), nil
}
