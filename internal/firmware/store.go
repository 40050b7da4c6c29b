package firmware

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	manifestFile = "pending.yaml"
	imageSuffix  = ".bin"

	// DefaultMaxImageSize bounds a single staged image.
	DefaultMaxImageSize = 16 << 20
)

var (
	// ErrEmptyImage is returned when an upload carries no data.
	ErrEmptyImage = errors.New("firmware image is empty")
	// ErrImageTooLarge is returned when an upload exceeds the store's limit.
	ErrImageTooLarge = errors.New("firmware image exceeds size limit")
	// ErrChecksumMismatch is returned when the image does not match the expected MD5.
	ErrChecksumMismatch = errors.New("firmware checksum mismatch")
	// ErrNoPendingImage is returned by Pending when nothing is staged.
	ErrNoPendingImage = errors.New("no pending firmware image")
)

// Image describes a staged firmware image.
type Image struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Source    string    `yaml:"source"`
	Path      string    `yaml:"path"`
	SizeBytes int64     `yaml:"size_bytes"`
	MD5       string    `yaml:"md5"`
	SHA256    string    `yaml:"sha256"`
	StagedAt  time.Time `yaml:"staged_at"`
}

// Store stages uploaded firmware images on disk until the host applies them.
// Only one image is pending at a time; staging a new one replaces it. Files
// held through Acquire outlive their replacement until released.
type Store struct {
	dir     string
	maxSize int64

	mu    sync.Mutex
	inUse map[string]int
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create firmware directory: %w", err)
	}
	return &Store{dir: dir, maxSize: DefaultMaxImageSize, inUse: make(map[string]int)}, nil
}

// SetMaxSize changes the size limit for new images.
func (s *Store) SetMaxSize(n int64) {
	s.maxSize = n
}

// MaxSize returns the current size limit.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Stage copies r into the store as the pending image. source names where the
// image came from (e.g. "portal", "ota"). If expectedMD5 is non-empty the
// image is rejected unless it matches.
func (s *Store) Stage(source, name string, r io.Reader, expectedMD5 string) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	tmp, err := os.CreateTemp(s.dir, "upload-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	md5sum := md5.New()
	shasum := sha256.New()
	limited := io.LimitReader(r, s.maxSize+1)

	n, err := io.Copy(io.MultiWriter(tmp, md5sum, shasum), limited)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write firmware image: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyImage
	}
	if n > s.maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, s.maxSize)
	}

	img := &Image{
		ID:        id,
		Name:      filepath.Base(name),
		Source:    source,
		Path:      filepath.Join(s.dir, id+imageSuffix),
		SizeBytes: n,
		MD5:       hex.EncodeToString(md5sum.Sum(nil)),
		SHA256:    hex.EncodeToString(shasum.Sum(nil)),
		StagedAt:  time.Now().UTC(),
	}

	if expectedMD5 != "" && !strings.EqualFold(expectedMD5, img.MD5) {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, img.MD5, expectedMD5)
	}

	if err := os.Rename(tmpPath, img.Path); err != nil {
		return nil, fmt.Errorf("failed to commit firmware image: %w", err)
	}
	committed = true

	previous, _ := s.readManifest()
	if err := s.writeManifest(img); err != nil {
		_ = os.Remove(img.Path)
		return nil, err
	}
	if previous != nil && previous.Path != img.Path && s.inUse[previous.Path] == 0 {
		_ = os.Remove(previous.Path)
	}

	return img, nil
}

// Pending returns the image waiting to be applied.
func (s *Store) Pending() (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.readManifest()
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrNoPendingImage
	}
	return img, nil
}

// Acquire returns the pending image and keeps its file on disk until release
// is called, even if another image is staged or the store is cleared
// meanwhile.
func (s *Store) Acquire() (img *Image, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err = s.readManifest()
	if err != nil {
		return nil, nil, err
	}
	if img == nil {
		return nil, nil, ErrNoPendingImage
	}
	s.inUse[img.Path]++

	var once sync.Once
	release = func() {
		once.Do(func() { s.release(img.Path) })
	}
	return img, release, nil
}

func (s *Store) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse[path]--; s.inUse[path] > 0 {
		return
	}
	delete(s.inUse, path)
	if current, _ := s.readManifest(); current == nil || current.Path != path {
		_ = os.Remove(path)
	}
}

// Clear removes the pending image, typically after it was applied.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked("")
}

// ClearIfPending removes the pending image only if it is still id, so an
// image staged while id was being applied survives.
func (s *Store) ClearIfPending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(id)
}

func (s *Store) clearLocked(id string) error {
	img, err := s.readManifest()
	if err != nil {
		return err
	}
	if img == nil || (id != "" && img.ID != id) {
		return nil
	}
	if s.inUse[img.Path] == 0 {
		if err := os.Remove(img.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove firmware image: %w", err)
		}
	}
	if err := os.Remove(filepath.Join(s.dir, manifestFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}

func (s *Store) readManifest() (*Image, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var img Image
	if err := yaml.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &img, nil
}

func (s *Store) writeManifest(img *Image) error {
	data, err := yaml.Marshal(img)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(s.dir, manifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}
