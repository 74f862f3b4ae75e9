// Package filestore is a persistence substrate that keeps one file per key in a directory.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/utils"
)

const component = "filestore"

// Config configures a Store.
type Config struct {
	Directory string `yaml:"directory"`
	// MaxSize is the byte quota across all records. Zero means unlimited.
	MaxSize      int64         `yaml:"max_size"`
	IndexFile    string        `yaml:"index_file"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// record is the index entry for one stored key.
type record struct {
	Key       string    `json:"key"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
	Checksum  string    `json:"checksum"`
}

// Store implements types.Substrate on the local filesystem.
type Store struct {
	mu          sync.RWMutex
	directory   string
	maxSize     int64
	currentSize int64
	index       map[string]*record
	dirty       bool
	config      Config

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New opens (or creates) a store rooted at config.Directory and loads its index.
func New(config Config) (*Store, error) {
	if config.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "directory is required").
			WithComponent(component)
	}
	if config.IndexFile == "" {
		config.IndexFile = "index.json"
	}

	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to create cache directory").
			WithComponent(component)
	}

	s := &Store{
		directory: config.Directory,
		maxSize:   config.MaxSize,
		index:     make(map[string]*record),
		config:    config,
		stopCh:    make(chan struct{}),
	}

	if err := s.loadIndex(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCorruption, "failed to load index").
			WithComponent(component)
	}

	if config.SyncInterval > 0 {
		s.wg.Add(1)
		go s.syncLoop()
	}

	return s, nil
}

// Get returns the stored bytes for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOperationCanceled, "get canceled")
	}

	s.mu.RLock()
	rec, ok := s.index[key]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, errors.NewError(errors.ErrCodeComponentStopped, "store is closed").WithComponent(component)
	}
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNotFound, "key not found").WithComponent(component).WithKey(key)
	}

	data, err := os.ReadFile(s.path(rec.FileName))
	if err != nil {
		if os.IsNotExist(err) {
			s.forget(key, rec)
			return nil, errors.NewError(errors.ErrCodeNotFound, "record file missing").
				WithComponent(component).WithKey(key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read record").
			WithComponent(component).WithKey(key)
	}

	if checksum(data) != rec.Checksum {
		return nil, errors.NewError(errors.ErrCodeCorruption, "checksum mismatch").
			WithComponent(component).WithKey(key)
	}

	return data, nil
}

// Set writes data for key, replacing any previous value. Writes that would exceed MaxSize fail
// with QUOTA_EXCEEDED and leave the previous value in place.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, "set canceled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "store is closed").WithComponent(component)
	}

	var oldSize int64
	if existing, ok := s.index[key]; ok {
		oldSize = existing.Size
	}
	newSize := int64(len(data))
	if s.maxSize > 0 && s.currentSize-oldSize+newSize > s.maxSize {
		return errors.NewError(errors.ErrCodeQuotaExceeded, "persistent quota exceeded").
			WithComponent(component).
			WithKey(key).
			WithDetail("used", utils.FormatBytes(s.currentSize)).
			WithDetail("limit", utils.FormatBytes(s.maxSize))
	}

	rec := &record{
		Key:       key,
		FileName:  fileName(key),
		Size:      newSize,
		UpdatedAt: time.Now(),
		Checksum:  checksum(data),
	}

	if err := writeAtomic(s.path(rec.FileName), data); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFull, "failed to write record").
			WithComponent(component).WithKey(key)
	}

	s.index[key] = rec
	s.currentSize += newSize - oldSize
	s.dirty = true
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, "delete canceled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[key]
	if !ok {
		return nil
	}

	if err := os.Remove(s.path(rec.FileName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrCodeStorageBusy, "failed to remove record").
			WithComponent(component).WithKey(key)
	}

	delete(s.index, key)
	s.currentSize -= rec.Size
	s.dirty = true
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOperationCanceled, "keys canceled")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the bytes currently stored.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// Close stops the sync loop and writes the index.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndex()
}

// Sync writes the index if it changed since the last write.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveIndex()
}

func (s *Store) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Sync() // retried on the next tick and on Close
		}
	}
}

// forget drops rec from the index if it is still the current record for key.
func (s *Store) forget(key string, rec *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.index[key]; ok && cur == rec {
		delete(s.index, key)
		s.currentSize -= rec.Size
		s.dirty = true
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.directory, name)
}

func (s *Store) indexPath() (string, error) {
	return utils.SecureJoin(s.directory, s.config.IndexFile)
}

func (s *Store) loadIndex() error {
	indexPath, err := s.indexPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(indexPath) // #nosec G304 -- path validated by SecureJoin
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var records map[string]*record
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return err
	}

	s.currentSize = 0
	for key, rec := range records {
		if _, err := os.Stat(s.path(rec.FileName)); os.IsNotExist(err) {
			continue
		}
		s.index[key] = rec
		s.currentSize += rec.Size
	}
	return nil
}

// saveIndex must be called with mu held.
func (s *Store) saveIndex() error {
	indexPath, err := s.indexPath()
	if err != nil {
		return err
	}

	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := writeAtomic(indexPath, data); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// writeAtomic writes to a temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".rec"
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
