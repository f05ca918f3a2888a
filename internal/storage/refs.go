package storage

import (
	"context"

	"github.com/conveyor-io/conveyor/internal/records"
)

// Refs implements records.ReferenceStore (existence and natural-key lookups
// for import validation).
var _ records.ReferenceStore = (*Refs)(nil)

// Refs bundles the entity stores' reference lookups behind the validation
// layer's interface.
type Refs struct {
	users    *UserStore
	articles *ArticleStore
}

// NewRefs creates the reference lookup facade.
func NewRefs(users *UserStore, articles *ArticleStore) *Refs {
	return &Refs{users: users, articles: articles}
}

// UserExists reports whether a user row with the id exists.
func (r *Refs) UserExists(ctx context.Context, id int64) (bool, error) {
	return r.users.UserExists(ctx, id)
}

// ArticleExists reports whether an article row with the id exists.
func (r *Refs) ArticleExists(ctx context.Context, id int64) (bool, error) {
	return r.articles.ArticleExists(ctx, id)
}

// UserIDByEmail returns the owning user id for an email, case-insensitively.
func (r *Refs) UserIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	return r.users.UserIDByEmail(ctx, email)
}

// ArticleIDBySlug returns the owning article id for a slug, if any.
func (r *Refs) ArticleIDBySlug(ctx context.Context, slug string) (int64, bool, error) {
	return r.articles.ArticleIDBySlug(ctx, slug)
}
