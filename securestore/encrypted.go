package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the iteration count for key derivation.
	pbkdf2Iterations = 100000
	// encryptionVersion is the current on-disk format version.
	encryptionVersion = 1
	// saltSize is the size of the PBKDF2 salt.
	saltSize = 32

	entrySuffix = ".enc"
)

// Encrypted is a file-backed Store with AES-256-GCM encryption at
// rest. Each key lives in its own file, which gives the destruction
// engine a distinct on-disk region to overwrite per key.
type Encrypted struct {
	mu            sync.RWMutex
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

// NewEncrypted creates an encrypted store rooted at dataDir. The
// master password is wiped after key derivation.
func NewEncrypted(dataDir string, masterPassword []byte) (*Encrypted, error) {
	if len(masterPassword) == 0 {
		return nil, fmt.Errorf("master password cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Encrypted{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := s.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(masterPassword, salt, pbkdf2Iterations, 32, sha256.New)
	copy(s.encryptionKey[:], derivedKey)

	wipe(derivedKey)
	wipe(masterPassword)

	return s, nil
}

func (s *Encrypted) loadOrGenerateSalt() ([]byte, error) {
	data, err := os.ReadFile(s.saltFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.WriteFile(s.saltFile, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
		return salt, nil
	}

	if len(data) != saltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), saltSize)
	}
	return data, nil
}

// Get reads and decrypts the value for key.
func (s *Encrypted) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	return s.decrypt(data)
}

// Set encrypts value and writes it under key. The write replaces the
// entry file, so repeated Set calls overwrite the key's on-disk region.
func (s *Encrypted) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := aes.NewCipher(s.encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, value, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], encryptionVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)

	// Entries are written in place rather than via rename so that a
	// Set over an existing key reuses the same on-disk region.
	if err := os.WriteFile(s.entryPath(key), output, 0o600); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key. Missing keys are ignored.
func (s *Encrypted) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// Keys lists all stored keys.
func (s *Encrypted) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, entrySuffix))
	}
	return keys, nil
}

// Close wipes the derived encryption key from memory.
func (s *Encrypted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wipe(s.encryptionKey[:])
	return nil
}

func (s *Encrypted) decrypt(data []byte) ([]byte, error) {
	if len(data) < 2+12+16 {
		return nil, fmt.Errorf("entry too short: %d bytes", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != encryptionVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d", version)
	}

	block, err := aes.NewCipher(s.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 2+nonceSize {
		return nil, fmt.Errorf("entry too short for nonce: %d bytes", len(data))
	}

	plaintext, err := gcm.Open(nil, data[2:2+nonceSize], data[2+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted data): %w", err)
	}
	return plaintext, nil
}

func (s *Encrypted) entryPath(key string) string {
	// Keys double as filenames; path separators are flattened so a
	// hostile key cannot escape the data directory.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(s.dataDir, safe+entrySuffix)
}

// wipe zeroes sensitive byte slices, keeping the compiler from
// optimizing the overwrite away.
func wipe(data []byte) {
	if data == nil {
		return
	}
	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}
