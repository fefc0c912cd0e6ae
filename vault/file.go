package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	masterSecretName = "master.key"
	recordSuffix     = ".cred"

	dirPerm  = 0o700
	filePerm = 0o600
)

// File stores sealed records as one file per key under a directory. The
// master secret is created on first use and kept alongside the records with
// 0600 permissions; every record is sealed under a key derived from it.
type File struct {
	dir    string
	sealer *sealer
}

// FileOption configures a File vault.
type FileOption func(*fileConfig)

type fileConfig struct {
	master []byte
}

// WithMasterSecret supplies the 32-byte master secret directly instead of
// loading or creating one under the vault directory.
func WithMasterSecret(secret []byte) FileOption {
	return func(c *fileConfig) {
		c.master = secret
	}
}

// NewFile opens a file vault rooted at dir, creating the directory and the
// per-install master secret as needed. An empty dir places the vault under
// the user configuration directory.
func NewFile(dir string, opts ...FileOption) (*File, error) {
	var cfg fileConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving config directory: %w", err)
		}
		dir = filepath.Join(base, "playforge")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}

	master := cfg.master
	if master == nil {
		var err error
		master, err = loadOrCreateMasterSecret(filepath.Join(dir, masterSecretName))
		if err != nil {
			return nil, err
		}
	}

	s, err := newSealer(master)
	if err != nil {
		return nil, err
	}
	return &File{dir: dir, sealer: s}, nil
}

// loadOrCreateMasterSecret reads the per-install master secret, generating a
// fresh one on first use.
func loadOrCreateMasterSecret(path string) ([]byte, error) {
	master, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(master) != masterKeySize {
			return nil, fmt.Errorf("%w: %s holds %d bytes", ErrMasterKeySize, path, len(master))
		}
		return master, nil
	case errors.Is(err, fs.ErrNotExist):
		master = make([]byte, masterKeySize)
		if _, err := io.ReadFull(rand.Reader, master); err != nil {
			return nil, fmt.Errorf("generating master secret: %w", err)
		}
		if err := writeAtomic(path, master); err != nil {
			return nil, fmt.Errorf("writing master secret: %w", err)
		}
		return master, nil
	default:
		return nil, fmt.Errorf("reading master secret: %w", err)
	}
}

// recordPath maps a key to a filename without restricting the key alphabet.
func (f *File) recordPath(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(f.dir, name+recordSuffix)
}

// Put seals and writes the record for key, replacing any previous value.
func (f *File) Put(ctx context.Context, key string, value []byte) error {
	sealed, err := f.sealer.seal(key, value)
	if err != nil {
		return fmt.Errorf("sealing record: %w", err)
	}
	if err := writeAtomic(f.recordPath(key), sealed); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Get reads and opens the record for key.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := os.ReadFile(f.recordPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading record: %w", err)
	}
	value, err := f.sealer.open(key, sealed)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes the record for key. Deleting an absent key is not an error.
func (f *File) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.recordPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// CheckHealth verifies the vault directory is writable.
func (f *File) CheckHealth(ctx context.Context) error {
	probe, err := os.CreateTemp(f.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault directory not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return fmt.Errorf("closing probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("removing probe file: %w", err)
	}
	return nil
}

// writeAtomic writes data via a temp file and rename so readers never see a
// partial record.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Best effort: only present if a prior step failed.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
