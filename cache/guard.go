package cache

import (
	"context"
	"time"
)

// FinalizeGuard hands out single-use claims on keys, such as poll URLs, so
// that a flow runs at most once per key within the claim lifetime.
//
//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/mock_$GOFILE -package=mock_$GOPACKAGE FinalizeGuard
type FinalizeGuard interface {
	// Claim returns true for the first caller of key until ttl elapses.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
