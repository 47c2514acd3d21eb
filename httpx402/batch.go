package httpx402

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HeaderBatchToken carries a freshly issued batch-credits token back to the
// payer after a settlement. It is a transport-level convenience, not part of
// the core wire protocol, so it lives alongside PAYMENT-RESPONSE rather than
// in the encoding package's header set.
const HeaderBatchToken = "X-BATCH-TOKEN"

// ErrBatchExhausted is returned when a batch token's credits have all been
// consumed.
var ErrBatchExhausted = errors.New("batch token credits exhausted")

// ErrBatchTokenUnknown is returned when a batch token's counter entry is
// missing - never registered, or forgotten by an in-memory store restart.
var ErrBatchTokenUnknown = errors.New("batch token not found in store")

// BatchClaims is the JWT payload a batch-credits token carries: standard
// registered claims plus the resource it is scoped to and the server-side
// counter key. RequestsTotal travels inside the signed token so a client
// cannot inflate it; BatchCounterStore is the authoritative count of how
// many calls have actually been spent.
type BatchClaims struct {
	jwt.RegisteredClaims
	TokenID       string `json:"tid"`
	Resource      string `json:"resource"`
	RequestsTotal int64  `json:"requests_total"`
}

// BatchCounterStore tracks how many of a batch token's credits have been
// spent. Implementations must be safe for concurrent use.
type BatchCounterStore interface {
	// Register initializes a counter for a newly issued token with the
	// given total allowance. Calling it again for the same tokenID is a
	// no-op: issuance happens exactly once.
	Register(tokenID string, total int64) error

	// Use atomically consumes one credit and returns the number remaining.
	// Returns ErrBatchExhausted once the allowance is reached, and
	// ErrBatchTokenUnknown if the token was never registered.
	Use(tokenID string, total int64) (remaining int64, err error)
}

type batchEntry struct {
	used  atomic.Int64
	total int64
}

// InMemoryBatchCounterStore is a process-local BatchCounterStore. State does
// not survive a restart; a multi-instance deployment wants a shared store
// (Redis, a SQL table) behind the same interface instead.
type InMemoryBatchCounterStore struct {
	mu      sync.Mutex
	entries map[string]*batchEntry
}

func NewInMemoryBatchCounterStore() *InMemoryBatchCounterStore {
	return &InMemoryBatchCounterStore{entries: make(map[string]*batchEntry)}
}

func (s *InMemoryBatchCounterStore) Register(tokenID string, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[tokenID]; !exists {
		s.entries[tokenID] = &batchEntry{total: total}
	}
	return nil
}

func (s *InMemoryBatchCounterStore) Use(tokenID string, total int64) (int64, error) {
	s.mu.Lock()
	e, ok := s.entries[tokenID]
	s.mu.Unlock()
	if !ok {
		return 0, ErrBatchTokenUnknown
	}

	used := e.used.Add(1)
	if used > total {
		e.used.Add(-1)
		return 0, ErrBatchExhausted
	}
	return total - used, nil
}

// BatchTokenManager issues and redeems batch-credit bearer tokens. A single
// settled payment for a route with a positive RouteConfig.BatchCredits
// grants the payer that many additional free calls to the same resource,
// tracked by a signed HS256 JWT plus a server-side counter so credits can
// neither be forged nor replayed past their total.
type BatchTokenManager struct {
	secret []byte
	expiry time.Duration
	store  BatchCounterStore
}

// NewBatchTokenManager builds a BatchTokenManager signing with secret,
// issuing tokens good for expiry, backed by store.
func NewBatchTokenManager(secret []byte, expiry time.Duration, store BatchCounterStore) *BatchTokenManager {
	return &BatchTokenManager{secret: secret, expiry: expiry, store: store}
}

// Issue signs and registers a new batch token scoped to resource, good for
// requestsTotal additional calls.
func (m *BatchTokenManager) Issue(resource string, requestsTotal int64) (string, error) {
	tokenID := uuid.NewString()
	now := time.Now()
	claims := &BatchClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
		TokenID:       tokenID,
		Resource:      resource,
		RequestsTotal: requestsTotal,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing batch token: %w", err)
	}
	if err := m.store.Register(tokenID, requestsTotal); err != nil {
		return "", fmt.Errorf("registering batch token: %w", err)
	}
	return signed, nil
}

// Redeem validates tokenString for resource and consumes one credit,
// returning the number remaining. A token minted for a different resource,
// expired, improperly signed, or already exhausted is rejected.
func (m *BatchTokenManager) Redeem(resource, tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &BatchClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parsing batch token: %w", err)
	}
	claims, ok := token.Claims.(*BatchClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid batch token claims")
	}
	if claims.Resource != resource {
		return 0, fmt.Errorf("batch token is not valid for %s", resource)
	}
	return m.store.Use(claims.TokenID, claims.RequestsTotal)
}

// bearerToken extracts the token from a standard "Authorization: Bearer
// <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}
