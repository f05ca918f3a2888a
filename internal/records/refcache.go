package records

import (
	"context"
	"fmt"
	"strings"
)

// ReferenceStore answers existence and natural-key ownership questions
// against the backing store. Implemented by the storage layer.
type ReferenceStore interface {
	// UserExists reports whether a user row with the id exists.
	UserExists(ctx context.Context, id int64) (bool, error)
	// ArticleExists reports whether an article row with the id exists.
	ArticleExists(ctx context.Context, id int64) (bool, error)
	// UserIDByEmail returns the owning user id for an email
	// (case-insensitive), if any.
	UserIDByEmail(ctx context.Context, email string) (int64, bool, error)
	// ArticleIDBySlug returns the owning article id for a slug, if any.
	ArticleIDBySlug(ctx context.Context, slug string) (int64, bool, error)
}

type ownerEntry struct {
	id    int64
	found bool
}

// RefCache memoizes ReferenceStore lookups for the lifetime of one job run.
// Both positive and negative results are cached to bound round trips. The
// cache is confined to a single run and is not safe for concurrent use.
type RefCache struct {
	store  ReferenceStore
	exists map[string]bool
	owners map[string]ownerEntry
}

// NewRefCache creates an empty per-job cache over the given store.
func NewRefCache(store ReferenceStore) *RefCache {
	return &RefCache{
		store:  store,
		exists: make(map[string]bool),
		owners: make(map[string]ownerEntry),
	}
}

// UserExists is a memoized ReferenceStore.UserExists.
func (c *RefCache) UserExists(ctx context.Context, id int64) (bool, error) {
	return c.memoExists(ctx, fmt.Sprintf("user:%d", id), func() (bool, error) {
		return c.store.UserExists(ctx, id)
	})
}

// ArticleExists is a memoized ReferenceStore.ArticleExists.
func (c *RefCache) ArticleExists(ctx context.Context, id int64) (bool, error) {
	return c.memoExists(ctx, fmt.Sprintf("article:%d", id), func() (bool, error) {
		return c.store.ArticleExists(ctx, id)
	})
}

// UserIDByEmail is a memoized ReferenceStore.UserIDByEmail. The email is
// lower-cased before lookup and caching.
func (c *RefCache) UserIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	return c.memoOwner("email:"+strings.ToLower(email), func() (int64, bool, error) {
		return c.store.UserIDByEmail(ctx, strings.ToLower(email))
	})
}

// ArticleIDBySlug is a memoized ReferenceStore.ArticleIDBySlug.
func (c *RefCache) ArticleIDBySlug(ctx context.Context, slug string) (int64, bool, error) {
	return c.memoOwner("slug:"+strings.ToLower(slug), func() (int64, bool, error) {
		return c.store.ArticleIDBySlug(ctx, strings.ToLower(slug))
	})
}

// ClaimEmail records that a record in the current run now owns the email, so
// later store lookups within the run see it as taken.
func (c *RefCache) ClaimEmail(email string, id int64) {
	c.owners["email:"+strings.ToLower(email)] = ownerEntry{id: id, found: true}
}

// ClaimSlug records run-local ownership of a slug.
func (c *RefCache) ClaimSlug(slug string, id int64) {
	c.owners["slug:"+strings.ToLower(slug)] = ownerEntry{id: id, found: true}
}

func (c *RefCache) memoExists(_ context.Context, key string, lookup func() (bool, error)) (bool, error) {
	if hit, ok := c.exists[key]; ok {
		return hit, nil
	}

	found, err := lookup()
	if err != nil {
		return false, err
	}

	c.exists[key] = found

	return found, nil
}

func (c *RefCache) memoOwner(key string, lookup func() (int64, bool, error)) (int64, bool, error) {
	if hit, ok := c.owners[key]; ok {
		return hit.id, hit.found, nil
	}

	id, found, err := lookup()
	if err != nil {
		return 0, false, err
	}

	c.owners[key] = ownerEntry{id: id, found: found}

	return id, found, nil
}
