package records

import (
	"strconv"
	"time"

	"github.com/conveyor-io/conveyor/internal/jobs"
)

type (
	// UserRecord is the normalized form of an imported user.
	UserRecord struct {
		ID        *int64     `json:"id"`
		Email     string     `json:"email"     validate:"omitempty,email,max=320"`
		Name      string     `json:"name"      validate:"omitempty,max=255"`
		Role      string     `json:"role"      validate:"omitempty,oneof=admin editor user"`
		Active    *bool      `json:"active"`
		CreatedAt *time.Time `json:"created_at"`
		UpdatedAt *time.Time `json:"updated_at"`
	}

	// ArticleRecord is the normalized form of an imported article.
	ArticleRecord struct {
		ID          *int64     `json:"id"`
		Slug        string     `json:"slug"   validate:"omitempty,kebabslug,max=255"`
		Title       string     `json:"title"  validate:"omitempty,max=255"`
		Body        string     `json:"body"`
		AuthorID    *int64     `json:"author_id"`
		Tags        []string   `json:"tags"`
		Status      string     `json:"status" validate:"omitempty,oneof=draft published archived"`
		PublishedAt *time.Time `json:"published_at"`
		CreatedAt   *time.Time `json:"created_at"`
		UpdatedAt   *time.Time `json:"updated_at"`

		// TagsProvided distinguishes "tags absent" from "tags: []"; only a
		// supplied array replaces the stored tag list.
		TagsProvided bool `json:"-"`
	}

	// CommentRecord is the normalized form of an imported comment.
	CommentRecord struct {
		ID        *int64     `json:"id"`
		ArticleID *int64     `json:"article_id"`
		UserID    *int64     `json:"user_id"`
		Body      string     `json:"body"`
		CreatedAt *time.Time `json:"created_at"`
	}

	// Validated is one import record that passed validation, tagged with its
	// source index. Exactly one of the entity pointers is set, matching the
	// job's resource.
	Validated struct {
		Index   int64
		User    *UserRecord
		Article *ArticleRecord
		Comment *CommentRecord
	}
)

// RecordID extracts the business key of a validated record for error
// journaling: id when present, else the natural key (email or slug).
func (v *Validated) RecordID() string {
	switch {
	case v.User != nil:
		if v.User.ID != nil {
			return strconv.FormatInt(*v.User.ID, 10)
		}

		return v.User.Email
	case v.Article != nil:
		if v.Article.ID != nil {
			return strconv.FormatInt(*v.Article.ID, 10)
		}

		return v.Article.Slug
	case v.Comment != nil:
		if v.Comment.ID != nil {
			return strconv.FormatInt(*v.Comment.ID, 10)
		}
	}

	return ""
}

// Resource reports which entity family the record belongs to.
func (v *Validated) Resource() jobs.Resource {
	switch {
	case v.User != nil:
		return jobs.ResourceUsers
	case v.Article != nil:
		return jobs.ResourceArticles
	default:
		return jobs.ResourceComments
	}
}
