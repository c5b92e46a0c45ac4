package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// Account is one set of stored credentials for a source. Secrets holds the
// source-specific values listed by Fields.
type Account struct {
	Source       string            `json:"source"`
	Name         string            `json:"name"`
	Secrets      map[string]string `json:"secrets"`
	LastModified time.Time         `json:"last_modified"`
}

// Key identifies the account across stores
func (a *Account) Key() string {
	return AccountKey(a.Source, a.Name)
}

// AccountKey builds the storage key of an account
func AccountKey(source, name string) string {
	return source + "/" + name
}

// Field describes one secret a source accepts.
type Field struct {
	Key      string
	Label    string
	Required bool
	// Hidden fields are read without echo and masked when displayed
	Hidden bool
}

var sourceFields = map[string][]Field{
	"reddit": {
		{Key: "client_id", Label: "Client ID", Required: true},
		{Key: "client_secret", Label: "Client secret", Required: true, Hidden: true},
		{Key: "username", Label: "Reddit username"},
		{Key: "password", Label: "Reddit password", Hidden: true},
	},
	"instagram": {
		{Key: "sessionid", Label: "sessionid cookie", Required: true, Hidden: true},
		{Key: "csrftoken", Label: "csrftoken cookie", Required: true, Hidden: true},
		{Key: "ds_user_id", Label: "ds_user_id cookie"},
	},
}

// Fields returns the secrets a source accepts; ok is false for sources that
// need no login.
func Fields(source string) ([]Field, bool) {
	f, ok := sourceFields[source]
	return f, ok
}

// SupportedSources lists sources that accept credentials
func SupportedSources() []string {
	names := make([]string, 0, len(sourceFields))
	for name := range sourceFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the account against its source's fields.
func (a *Account) Validate() error {
	if a.Source == "" || a.Name == "" {
		return fmt.Errorf("%w: source and account name are required", ErrInvalidCredentials)
	}
	fields, ok := Fields(a.Source)
	if !ok {
		return fmt.Errorf("%w: %s does not use credentials", ErrInvalidCredentials, a.Source)
	}

	var errs []error
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Key] = true
		if f.Required && a.Secrets[f.Key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.Key))
		}
	}
	for key := range a.Secrets {
		if !known[key] {
			errs = append(errs, fmt.Errorf("unknown field %s", key))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, errors.Join(errs...))
	}
	return nil
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves an account, replacing one with the same key
	Store(account *Account) error

	// Retrieve gets one account
	Retrieve(source, name string) (*Account, error)

	// List returns the accounts of a source
	List(source string) ([]*Account, error)

	// Delete removes one account
	Delete(source, name string) error

	// Exists checks if credentials exist for the account
	Exists(source, name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over the system keychain (when available), an
// encrypted file in the config directory and the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores, tried in order.
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store validates the account and saves it in the first store that accepts it.
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(source, name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(source, name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, AccountKey(source, name))
}

// Secrets returns the secrets an adapter should use. With an empty name the
// environment wins, then the most recently stored account of the source.
func (m *Manager) Secrets(source, name string) (map[string]string, error) {
	if name != "" {
		account, err := m.Retrieve(source, name)
		if err != nil {
			return nil, err
		}
		return account.Secrets, nil
	}

	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(source, ""); err == nil {
				return account.Secrets, nil
			}
		}
	}

	accounts, err := m.List(source)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, source)
	}
	return accounts[0].Secrets, nil
}

// List returns the accounts of a source from all stores, newest first. An
// account present in several stores is listed once, in its latest version.
func (m *Manager) List(source string) ([]*Account, error) {
	latest := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List(source)
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := latest[account.Key()]; !ok || account.LastModified.After(existing.LastModified) {
				latest[account.Key()] = account
			}
		}
	}

	result := make([]*Account, 0, len(latest))
	for _, account := range latest {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(source, name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(source, name)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrCredentialsNotFound, AccountKey(source, name))
}

// ConfigDir returns the per-user configuration directory, creating it.
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "harvester")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "harvester")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "harvester")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "harvester")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// SanitizeAccount returns a copy with hidden and unknown secrets masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	visible := make(map[string]bool)
	fields, _ := Fields(account.Source)
	for _, f := range fields {
		visible[f.Key] = !f.Hidden
	}

	masked := make(map[string]string, len(account.Secrets))
	for k, v := range account.Secrets {
		if visible[k] {
			masked[k] = v
		} else {
			masked[k] = maskString(v)
		}
	}

	return &Account{
		Source:       account.Source,
		Name:         account.Name,
		Secrets:      masked,
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
