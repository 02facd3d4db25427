// Package resolver answers "what is user U's membership in organization O" with a short-lived cache
// in front of the membership store.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"org-access-core/internal/cache"
	"org-access-core/internal/membership/domain"
	"org-access-core/internal/metrics"
)

const (
	// MaxTTL bounds how long a resolved membership may be served from cache.
	MaxTTL = 5 * time.Minute
	// MaxTimeout bounds a single store lookup.
	MaxTimeout = 2 * time.Second
)

// tombstone marks a key invalidated by a write. While it lives, fills started before the write cannot
// repopulate the key because fills only use SetNX.
var tombstone = []byte("-")

var (
	// ErrNotFound means the user has no membership row in the organization.
	ErrNotFound = errors.New("membership not found")
	// ErrResolverUnavailable means the store could not answer. Callers must deny, never treat it as ErrNotFound.
	ErrResolverUnavailable = errors.New("membership resolver unavailable")
)

// MembershipGetter is the store lookup the resolver depends on.
// It returns (nil, nil) when no row exists.
type MembershipGetter interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// Resolver resolves memberships. It is safe for concurrent use.
type Resolver struct {
	store   MembershipGetter
	cache   cache.Cache
	ttl     time.Duration
	timeout time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets the cache TTL, clamped to (0, MaxTTL].
func WithTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 && d <= MaxTTL {
			r.ttl = d
		}
	}
}

// WithTimeout sets the store lookup timeout, clamped to (0, MaxTimeout].
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 && d <= MaxTimeout {
			r.timeout = d
		}
	}
}

// New returns a Resolver over store. A nil cache disables caching.
func New(store MembershipGetter, c cache.Cache, opts ...Option) *Resolver {
	r := &Resolver{store: store, cache: c, ttl: MaxTTL, timeout: MaxTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the membership of userID in orgID. Revoked memberships are returned with
// Status = revoked; the caller decides what that grants. A missing row yields ErrNotFound.
// Store failures and timeouts yield an error wrapping ErrResolverUnavailable.
func (r *Resolver) Resolve(ctx context.Context, userID, orgID string) (*domain.View, error) {
	if userID == "" || orgID == "" {
		return nil, ErrNotFound
	}
	key := cache.MembershipKey(orgID, userID)
	if v, ok := r.fromCache(ctx, key); ok {
		return v, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	m, err := r.store.GetMembershipByUserAndOrg(lookupCtx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolverUnavailable, err)
	}
	if m == nil {
		return nil, ErrNotFound
	}
	view := m.ToView()
	r.toCache(ctx, key, view)
	return view, nil
}

// Invalidate drops the cached membership of userID in orgID. Called after every write to that row.
// The key is overwritten with a tombstone that outlives any store lookup already in flight, so a
// lookup that read the row before the write cannot cache the old value.
func (r *Resolver) Invalidate(ctx context.Context, userID, orgID string) {
	if r.cache == nil {
		return
	}
	key := cache.MembershipKey(orgID, userID)
	if err := r.cache.Set(ctx, key, tombstone, r.tombstoneTTL()); err != nil {
		log.Printf("resolver: invalidate org=%s user=%s: %v", orgID, userID, err)
		if err := r.cache.Delete(ctx, key); err != nil {
			log.Printf("resolver: invalidate delete %s: %v", key, err)
		}
	}
}

// tombstoneTTL covers a lookup that started just before Invalidate and ran up to the full timeout.
func (r *Resolver) tombstoneTTL() time.Duration {
	return 2 * r.timeout
}

func (r *Resolver) fromCache(ctx context.Context, key string) (*domain.View, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, found, err := r.cache.Get(ctx, key)
	if err != nil {
		metrics.MembershipCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !found || bytes.Equal(raw, tombstone) {
		metrics.MembershipCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	var v domain.View
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.MembershipCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.MembershipCacheLookups.WithLabelValues("hit").Inc()
	return &v, true
}

func (r *Resolver) toCache(ctx context.Context, key string, v *domain.View) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := r.cache.SetNX(ctx, key, raw, r.ttl); err != nil {
		log.Printf("resolver: cache set %s: %v", key, err)
	}
}
