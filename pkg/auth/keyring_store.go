package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "harvester"
	indexPrefix    = "index:"
)

// KeyringStore implements CredentialStore using the system keychain. The
// keychain cannot be enumerated, so each source keeps an index entry listing
// its account names.
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based credential store
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves credentials to the system keychain
func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Source == "" || account.Name == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := keyring.Set(keyringService, account.Key(), string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	names, err := k.index(account.Source)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == account.Name {
			return nil
		}
	}
	return k.saveIndex(account.Source, append(names, account.Name))
}

// Retrieve gets credentials from the system keychain
func (k *KeyringStore) Retrieve(source, name string) (*Account, error) {
	if source == "" || name == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, AccountKey(source, name))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &account, nil
}

// List returns the indexed accounts of a source
func (k *KeyringStore) List(source string) ([]*Account, error) {
	names, err := k.index(source)
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := k.Retrieve(source, name)
		if err != nil {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete removes credentials from the system keychain
func (k *KeyringStore) Delete(source, name string) error {
	if source == "" || name == "" {
		return ErrInvalidCredentials
	}

	if err := keyring.Delete(keyringService, AccountKey(source, name)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	names, err := k.index(source)
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	return k.saveIndex(source, kept)
}

// Exists checks if credentials exist in the keychain
func (k *KeyringStore) Exists(source, name string) bool {
	if source == "" || name == "" {
		return false
	}
	_, err := keyring.Get(keyringService, AccountKey(source, name))
	return err == nil
}

func (k *KeyringStore) index(source string) ([]string, error) {
	data, err := keyring.Get(keyringService, indexPrefix+source)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return names, nil
}

func (k *KeyringStore) saveIndex(source string, names []string) error {
	if len(names) == 0 {
		err := keyring.Delete(keyringService, indexPrefix+source)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to update keyring index: %w", err)
		}
		return nil
	}

	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, indexPrefix+source, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
