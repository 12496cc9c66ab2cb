package verification

import (
	"context"
	"time"
)

// Record is a stored value together with the time it was first written.
type Record struct {
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence behind nonce and receipt tracking.
//
// SetIfAbsent must be atomic: of any number of concurrent calls for the same
// key, exactly one reports true.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
}

const (
	DefaultTTL      = 24 * time.Hour
	DefaultCapacity = 100_000
)
