package siwx

import (
	"context"
	"fmt"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Storage is where the extension records and checks payer sign-in state,
// scoped per resourcePath: paying for one protected route never grants
// access to another. HasPaid/RecordPayment are required: a grantAccess
// decision always needs them. HasUsedNonce/RecordNonce are an optional pair
// for replay rejection; an implementation may skip both (relying on short
// message TTLs alone) but may not implement only one, since partial
// coverage is worse than none - NewExtension rejects that at construction.
type Storage interface {
	HasPaid(ctx context.Context, resourcePath, address string) (bool, error)
	RecordPayment(ctx context.Context, resourcePath, address string) error
}

// nonceChecker and nonceRecorder are the optional half of Storage, split
// into two one-method interfaces so NewExtension can detect a Storage that
// implements exactly one of them.
type nonceChecker interface {
	HasUsedNonce(ctx context.Context, nonce string) (bool, error)
}

type nonceRecorder interface {
	RecordNonce(ctx context.Context, nonce string) error
}

// nonceSupport reports whether storage implements the optional nonce-replay
// pair, erroring if it implements only one half.
func nonceSupport(storage Storage) (nonceChecker, nonceRecorder, error) {
	checker, hasChecker := storage.(nonceChecker)
	recorder, hasRecorder := storage.(nonceRecorder)
	if hasChecker != hasRecorder {
		return nil, nil, fmt.Errorf("siwx: storage implements only one of HasUsedNonce/RecordNonce")
	}
	if !hasChecker {
		return nil, nil, nil
	}
	return checker, recorder, nil
}

// MemoryStorage is an in-memory Storage backed by two TTL'd go-cache tables:
// paid addresses (kept for sessionTTL) and used nonces (kept for nonceTTL,
// long enough to outlive any message's expiration window). Suitable for a
// single-process resource server; a multi-instance deployment needs a
// shared backing store instead.
type MemoryStorage struct {
	paidAddresses *cache.Cache
	usedNonces    *cache.Cache
}

// NewMemoryStorage builds a MemoryStorage. sessionTTL bounds how long a
// successful sign-in grants free access; nonceTTL bounds how long a nonce is
// remembered as spent (must exceed the longest message expiration window
// the extension issues, or a nonce could be replayed after eviction).
func NewMemoryStorage(sessionTTL, nonceTTL time.Duration) *MemoryStorage {
	return &MemoryStorage{
		paidAddresses: cache.New(sessionTTL, sessionTTL/2),
		usedNonces:    cache.New(nonceTTL, nonceTTL/2),
	}
}

func (m *MemoryStorage) HasPaid(ctx context.Context, resourcePath, address string) (bool, error) {
	_, found := m.paidAddresses.Get(paidKey(resourcePath, address))
	return found, nil
}

func (m *MemoryStorage) RecordPayment(ctx context.Context, resourcePath, address string) error {
	m.paidAddresses.SetDefault(paidKey(resourcePath, address), struct{}{})
	return nil
}

// paidKey scopes the paid-address table per resourcePath (spec.md §3:
// paidAddresses: map<resource_path, set<lowercase_address>>), flattened into
// a single cache key since go-cache has no native nested-map support.
func paidKey(resourcePath, address string) string {
	return resourcePath + "\x00" + strings.ToLower(address)
}

func (m *MemoryStorage) HasUsedNonce(ctx context.Context, nonce string) (bool, error) {
	_, found := m.usedNonces.Get(nonce)
	return found, nil
}

func (m *MemoryStorage) RecordNonce(ctx context.Context, nonce string) error {
	m.usedNonces.SetDefault(nonce, struct{}{})
	return nil
}
