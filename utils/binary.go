package utils

import (
	"encoding/gob"
	"os"
	"path/filepath"
)

// Store persists gob-encoded objects under a base directory. The
// orchestrator uses it to remember each container's deployment request so
// the container can be redeployed later.
type Store struct {
	Dir string
}

// Save writes an object to a file using encoding/gob
func (s Store) Save(filename string, obj interface{}) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(s.Dir, filename))
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewEncoder(file).Encode(obj)
}

// Load reads an object from a file using encoding/gob
func (s Store) Load(filename string, obj interface{}) error {
	file, err := os.Open(filepath.Join(s.Dir, filename))
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(obj)
}

// Delete removes a stored object.
func (s Store) Delete(filename string) error {
	return os.Remove(filepath.Join(s.Dir, filename))
}
