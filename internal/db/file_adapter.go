package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileAdapter keeps the credential in a JSON file so it survives process restarts.
// The whole file is rewritten on every change through a temporary file and a rename.
type FileAdapter struct {
	lock      sync.Mutex
	path      string
	encryptor models.Encryptor
	keyPrefix string
}

type fileSnapshot struct {
	Tokens map[string]string `json:"tokens"`
}

type FileAdapterOption func(*FileAdapter) error

func WithFilePath(path string) FileAdapterOption {
	return func(f *FileAdapter) error {
		f.path = path
		return nil
	}
}

func WithFileEncryption(secretKey string) FileAdapterOption {
	return func(f *FileAdapter) error {
		encryptor, err := NewGCMEncryptor(secretKey)
		if err != nil {
			return err
		}
		f.encryptor = encryptor
		return nil
	}
}

func WithFileKeyPrefix(prefix string) FileAdapterOption {
	return func(f *FileAdapter) error {
		f.keyPrefix = prefix
		return nil
	}
}

func NewFileAdapter(options ...FileAdapterOption) (*FileAdapter, error) {
	f := FileAdapter{}
	for _, opt := range options {
		err := opt(&f)
		if err != nil {
			return &FileAdapter{}, err
		}
	}
	if f.path == "" {
		return &FileAdapter{}, fmt.Errorf("file path is not set")
	}
	return &f, nil
}

func (f *FileAdapter) GetToken(_ context.Context, key string) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	snapshot, err := f.load()
	if err != nil {
		return "", err
	}
	val, found := snapshot.Tokens[prefixedKey(f.keyPrefix, key)]
	if !found {
		return "", gwerrors.ErrTokenNotFound
	}
	return decryptValue(f.encryptor, val)
}

func (f *FileAdapter) SetToken(_ context.Context, key string, value string) error {
	encValue, err := encryptValue(f.encryptor, value)
	if err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	snapshot, err := f.load()
	if err != nil {
		return err
	}
	snapshot.Tokens[prefixedKey(f.keyPrefix, key)] = encValue
	return f.save(snapshot)
}

func (f *FileAdapter) RemoveToken(_ context.Context, key string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	snapshot, err := f.load()
	if err != nil {
		return err
	}
	name := prefixedKey(f.keyPrefix, key)
	if _, found := snapshot.Tokens[name]; !found {
		return nil
	}
	delete(snapshot.Tokens, name)
	return f.save(snapshot)
}

func (f *FileAdapter) load() (fileSnapshot, error) {
	snapshot := fileSnapshot{Tokens: map[string]string{}}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if len(data) == 0 {
		return snapshot, nil
	}
	err = json.Unmarshal(data, &snapshot)
	if err != nil {
		return fileSnapshot{}, fmt.Errorf("cannot parse credential file %s: %w", f.path, err)
	}
	if snapshot.Tokens == nil {
		snapshot.Tokens = map[string]string{}
	}
	return snapshot, nil
}

func (f *FileAdapter) save(snapshot fileSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	err = os.MkdirAll(dir, 0o700)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
