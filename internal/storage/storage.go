package storage

import (
	"context"

	"github.com/calebmassey/infra-provisioner/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Provision requests
	CreateRequest(ctx context.Context, req *domain.ProvisionRequest) error
	GetRequest(ctx context.Context, id string) (*domain.ProvisionRequest, error)
	UpdateRequest(ctx context.Context, req *domain.ProvisionRequest) error
	ListRequestsByRequester(ctx context.Context, requester string, limit int) ([]*domain.ProvisionRequest, error)

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
