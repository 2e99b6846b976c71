package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file parameters. File layout: [salt][nonce][ciphertext+tag].
const (
	secretsFileName = "secrets.json.enc"
	secretsDirName  = ".runsheet"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

// SecretStore holds decrypted secrets in memory. Lookups fall back to
// environment variables, so a secrets file is optional.
type SecretStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSecretStore creates an empty in-memory store.
func NewSecretStore() *SecretStore {
	return &SecretStore{values: make(map[string]string)}
}

// Get returns a secret by name, checking the store first and the
// environment second.
func (s *SecretStore) Get(name string) (string, error) {
	s.mu.RLock()
	value, ok := s.values[name]
	s.mu.RUnlock()
	if ok && value != "" {
		return value, nil
	}

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// Set stores a secret in memory. It is not persisted until SaveToFile.
func (s *SecretStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Names returns the stored secret names, never their values.
func (s *SecretStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	return names
}

// SecretsFileExists reports whether an encrypted secrets file exists
// under dir.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(secretsPath(dir))
	return err == nil
}

// SaveToFile encrypts the store's contents and writes them under dir
// with 0600 permissions.
func (s *SecretStore) SaveToFile(dir, password string) error {
	s.mu.RLock()
	plain := make(map[string]string, len(s.values))
	for k, v := range s.values {
		plain[k] = v
	}
	s.mu.RUnlock()

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	plaintext, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Join(dir, secretsDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(secretsPath(dir), fileData, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// LoadSecretsFile decrypts the secrets file under dir into a new store.
// World-readable files get their permissions tightened before reading.
func LoadSecretsFile(dir, password string) (*SecretStore, error) {
	path := secretsPath(dir)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("failed to fix secrets file permissions: %w", err)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize {
		return nil, fmt.Errorf("secrets file is truncated")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets file (wrong password?): %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted secrets: %w", err)
	}
	return &SecretStore{values: values}, nil
}

func secretsPath(dir string) string {
	return filepath.Join(dir, secretsDirName, secretsFileName)
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
