// Package directory serves the username display projection for ledger reads.
//
// Usernames belong to the identity system. The ledger only shows them next
// to balances and history entries, so a short-lived cache in front of the
// users table is enough.
package directory

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/observability"
)

const (
	DefaultTTL      = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// Source resolves usernames from the system of record.
type Source interface {
	DisplayNames(ctx context.Context, ids []ledger.UserID) (map[ledger.UserID]string, error)
}

// Cached is a ledger.UserDirectory that remembers resolved names for ttl.
// Unknown ids are not cached, so a user created later shows up on the next
// read.
type Cached struct {
	source Source
	cache  *cache.Cache
	ttl    time.Duration
}

var _ ledger.UserDirectory = (*Cached)(nil)

// NewCached wraps source. A ttl <= 0 uses DefaultTTL.
func NewCached(source Source, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{
		source: source,
		cache:  cache.New(ttl, cleanupInterval),
		ttl:    ttl,
	}
}

func (c *Cached) DisplayNames(ctx context.Context, ids []ledger.UserID) (map[ledger.UserID]string, error) {
	names := make(map[ledger.UserID]string, len(ids))
	var missing []ledger.UserID
	for _, id := range ids {
		if obj, found := c.cache.Get(string(id)); found {
			names[id] = obj.(string)
			observability.DirectoryLookups.WithLabelValues("hit").Inc()
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return names, nil
	}

	observability.DirectoryLookups.WithLabelValues("miss").Add(float64(len(missing)))
	resolved, err := c.source.DisplayNames(ctx, missing)
	if err != nil {
		observability.DirectoryLookups.WithLabelValues("error").Inc()
		return names, err
	}
	for id, name := range resolved {
		names[id] = name
		c.cache.Set(string(id), name, c.ttl)
	}
	return names, nil
}

// Forget drops a cached name, e.g. after a rename.
func (c *Cached) Forget(id ledger.UserID) {
	c.cache.Delete(string(id))
}

// Flush drops every cached name.
func (c *Cached) Flush() {
	c.cache.Flush()
}
