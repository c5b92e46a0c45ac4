package auth

import (
	"os"
	"strings"
	"time"
)

// EnvPrefix starts every credential variable, as in HARVESTER_REDDIT_CLIENT_ID.
const EnvPrefix = "HARVESTER_"

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and exposes at most one account per source, named "env".
type EnvironmentStore struct {
	lookup func(string) (string, bool)
}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{lookup: os.LookupEnv}
}

// EnvVar names the variable holding one secret of a source.
func EnvVar(source, key string) string {
	return EnvPrefix + strings.ToUpper(source) + "_" + strings.ToUpper(key)
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the source's variables. The name is only
// echoed back; an empty one becomes "env".
func (e *EnvironmentStore) Retrieve(source, name string) (*Account, error) {
	fields, ok := Fields(source)
	if !ok {
		return nil, ErrCredentialsNotFound
	}

	secrets := make(map[string]string)
	for _, f := range fields {
		v, _ := e.lookup(EnvVar(source, f.Key))
		if v == "" {
			if f.Required {
				return nil, ErrCredentialsNotFound
			}
			continue
		}
		secrets[f.Key] = v
	}

	if name == "" {
		name = "env"
	}
	return &Account{
		Source:       source,
		Name:         name,
		Secrets:      secrets,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if the variables are set
func (e *EnvironmentStore) List(source string) ([]*Account, error) {
	account, err := e.Retrieve(source, "")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(source, name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(source, name string) bool {
	_, err := e.Retrieve(source, name)
	return err == nil
}
