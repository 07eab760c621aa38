package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	requests map[string]*domain.ProvisionRequest // key: id
	apiKeys  map[string]*domain.APIKey           // key: id
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		requests: make(map[string]*domain.ProvisionRequest),
		apiKeys:  make(map[string]*domain.APIKey),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{store: s}, nil
}

// ============================================
// Provision requests
// ============================================

func (s *Store) CreateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.ProvisionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *Store) UpdateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; !ok {
		return domain.ErrNotFound
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *Store) ListRequestsByRequester(ctx context.Context, requester string, limit int) ([]*domain.ProvisionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ProvisionRequest
	for _, req := range s.requests {
		if req.Requester == requester {
			result = append(result, req.Clone())
		}
	}

	// Newest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[key.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.apiKeys {
		if existing.KeyHash == key.KeyHash {
			return domain.ErrAlreadyExists
		}
	}
	keyCopy := *key
	s.apiKeys[key.ID] = &keyCopy
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			keyCopy := *key
			return &keyCopy, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keyCopy := *key
		keys = append(keys, &keyCopy)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Transactions
// ============================================

// Tx is a no-op transaction for in-memory store.
type Tx struct {
	store *Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// Forward all Tx methods to the underlying store
func (t *Tx) CreateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	return t.store.CreateRequest(ctx, req)
}
func (t *Tx) GetRequest(ctx context.Context, id string) (*domain.ProvisionRequest, error) {
	return t.store.GetRequest(ctx, id)
}
func (t *Tx) UpdateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	return t.store.UpdateRequest(ctx, req)
}
func (t *Tx) ListRequestsByRequester(ctx context.Context, requester string, limit int) ([]*domain.ProvisionRequest, error) {
	return t.store.ListRequestsByRequester(ctx, requester, limit)
}
func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return t.store.CreateAPIKey(ctx, key)
}
func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return t.store.GetAPIKeyByHash(ctx, keyHash)
}
func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return t.store.ListAPIKeys(ctx)
}
func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return t.store.DeleteAPIKey(ctx, id)
}
func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return t.store.UpdateAPIKeyLastUsed(ctx, id)
}
func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return t.store.CountAPIKeys(ctx)
}
