package auth

import "sync"

// MockStore is an in-memory CredentialStore for tests. Setting one of the
// error fields makes the matching method fail with it.
type MockStore struct {
	mu      sync.RWMutex
	sources map[string]map[string]Account

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{sources: make(map[string]map[string]Account)}
}

// NewMockManager creates a Manager backed by a single mock store
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}

func (m *MockStore) Store(account *Account) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if account == nil || account.Source == "" || account.Name == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names, ok := m.sources[account.Source]
	if !ok {
		names = make(map[string]Account)
		m.sources[account.Source] = names
	}
	names[account.Name] = *account
	return nil
}

func (m *MockStore) Retrieve(source, name string) (*Account, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.sources[source][name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *MockStore) List(source string) ([]*Account, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]*Account, 0, len(m.sources[source]))
	for _, account := range m.sources[source] {
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

func (m *MockStore) Delete(source, name string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[source][name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.sources[source], name)
	if len(m.sources[source]) == 0 {
		delete(m.sources, source)
	}
	return nil
}

func (m *MockStore) Exists(source, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sources[source][name]
	return ok
}

// Count returns the number of stored accounts across sources
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, names := range m.sources {
		n += len(names)
	}
	return n
}
