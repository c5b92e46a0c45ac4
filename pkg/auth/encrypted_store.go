package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase of the encrypted store
const PassphraseEnv = "HARVESTER_PASSPHRASE"

const (
	vaultVersion   = 2
	saltSize       = 32
	keySize        = 32
	kdfIterations  = 100000
	passphraseFile = ".passphrase"
)

// vaultFile is the on-disk envelope. Byte slices are base64 in JSON.
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     []byte    `json:"salt"`
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// vault holds the decrypted accounts keyed by Account.Key.
type vault struct {
	salt     []byte
	accounts map[string]Account
}

// EncryptedFileStore keeps every account in one AES-GCM sealed file. The key
// is derived from a passphrase with PBKDF2 and a per-file salt.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the store at path, creating its directory.
// The passphrase comes from HARVESTER_PASSPHRASE or a .passphrase file
// beside the store, generated on first use.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	passphrase, err := loadPassphrase(dir)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store adds or replaces an account
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Source == "" || account.Name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.open()
	if errors.Is(err, fs.ErrNotExist) {
		v = &vault{accounts: make(map[string]Account)}
	} else if err != nil {
		return err
	}

	v.accounts[account.Key()] = *account
	return e.seal(v)
}

// Retrieve returns one account
func (e *EncryptedFileStore) Retrieve(source, name string) (*Account, error) {
	if source == "" || name == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.open()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}

	account, ok := v.accounts[AccountKey(source, name)]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

// List returns the accounts stored for source
func (e *EncryptedFileStore) List(source string) ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.open()
	if errors.Is(err, fs.ErrNotExist) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(v.accounts))
	for _, account := range v.accounts {
		if account.Source == source {
			accounts = append(accounts, &account)
		}
	}
	return accounts, nil
}

// Delete removes an account. The file goes away with the last account.
func (e *EncryptedFileStore) Delete(source, name string) error {
	if source == "" || name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.open()
	if errors.Is(err, fs.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}

	key := AccountKey(source, name)
	if _, ok := v.accounts[key]; !ok {
		return ErrCredentialsNotFound
	}
	delete(v.accounts, key)

	if len(v.accounts) == 0 {
		return os.Remove(e.path)
	}
	return e.seal(v)
}

// Exists reports whether the account is stored
func (e *EncryptedFileStore) Exists(source, name string) bool {
	_, err := e.Retrieve(source, name)
	return err == nil
}

// open reads and decrypts the vault. A missing file is returned as
// fs.ErrNotExist.
func (e *EncryptedFileStore) open() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}

	var file vaultFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}

	aead, err := e.newAEAD(file.Salt)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(file.Sealed) < n {
		return nil, errors.New("failed to decrypt credential file: truncated")
	}
	plain, err := aead.Open(nil, file.Sealed[:n], file.Sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential file (wrong passphrase?): %w", err)
	}

	v := &vault{salt: file.Salt}
	if err := json.Unmarshal(plain, &v.accounts); err != nil {
		return nil, fmt.Errorf("failed to parse stored accounts: %w", err)
	}
	if v.accounts == nil {
		v.accounts = make(map[string]Account)
	}
	return v, nil
}

// seal encrypts the vault with a fresh nonce and replaces the file atomically.
func (e *EncryptedFileStore) seal(v *vault) error {
	if len(v.salt) == 0 {
		v.salt = make([]byte, saltSize)
		if _, err := rand.Read(v.salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plain, err := json.Marshal(v.accounts)
	if err != nil {
		return fmt.Errorf("failed to encode accounts: %w", err)
	}

	aead, err := e.newAEAD(v.salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	content, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     v.salt,
		Sealed:   aead.Seal(nonce, nonce, plain, nil),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return os.Rename(tmp.Name(), e.path)
}

func (e *EncryptedFileStore) newAEAD(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func loadPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return content, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(path, pass, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
