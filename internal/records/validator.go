package records

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/jobs"
)

// ErrStoreLookup wraps reference-store failures. These are infrastructure
// errors, not record errors, and abort the run.
var ErrStoreLookup = errors.New("reference lookup failed")

// commentBodyWordCap is the maximum number of words in a comment body.
const commentBodyWordCap = 500

// kebabSlugPattern validates lower-case kebab slugs (a-z, 0-9, single dashes).
var kebabSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// importKeys enumerates the accepted canonical record keys per resource.
// Anything else fails the record with INVALID_RECORD_STRUCTURE.
var importKeys = map[jobs.Resource]map[string]bool{
	jobs.ResourceUsers: {
		"id": true, "email": true, "name": true, "role": true, "active": true,
		"created_at": true, "updated_at": true,
	},
	jobs.ResourceArticles: {
		"id": true, "slug": true, "title": true, "body": true, "author_id": true,
		"tags": true, "status": true, "published_at": true, "created_at": true, "updated_at": true,
	},
	jobs.ResourceComments: {
		"id": true, "article_id": true, "user_id": true, "body": true, "created_at": true,
	},
}

type (
	// Result is the outcome of validating one import record. Valid records
	// carry the normalized form; invalid records carry journaled errors.
	Result struct {
		Valid  bool
		Errors []*apperr.Error
		Record *Validated
	}

	// Validator performs per-record validation for one import run: shape and
	// coercion, format and enum checks, cross-field rules, batch-local
	// deduplication, and cached store uniqueness/reference checks.
	//
	// A Validator is confined to a single job run and is not safe for
	// concurrent use.
	Validator struct {
		resource jobs.Resource
		check    *validator.Validate
		cache    *RefCache

		// Batch-local natural-key claims: first record wins, later uses are
		// rejected as DUPLICATE_VALUE.
		seenEmails map[string]bool
		seenSlugs  map[string]bool
	}
)

// NewValidator creates a Validator for one job run over the given resource.
func NewValidator(resource jobs.Resource, store ReferenceStore) *Validator {
	check := validator.New(validator.WithRequiredStructEnabled())

	// Report field names from json tags so taxonomy errors carry canonical names.
	check.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	_ = check.RegisterValidation("kebabslug", func(fl validator.FieldLevel) bool {
		return kebabSlugPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		resource:   resource,
		check:      check,
		cache:      NewRefCache(store),
		seenEmails: make(map[string]bool),
		seenSlugs:  make(map[string]bool),
	}
}

// Validate validates one raw record. Record-level problems land in
// Result.Errors; the returned error is reserved for store failures.
func (v *Validator) Validate(ctx context.Context, raw map[string]any, index int64) (*Result, error) {
	result := &Result{}

	canonical, structureErrs := v.canonicalizeRecord(raw)

	result.Errors = append(result.Errors, structureErrs...)

	switch v.resource {
	case jobs.ResourceUsers:
		rec, errs := decodeUser(canonical)
		result.Errors = append(result.Errors, errs...)

		if len(result.Errors) == 0 {
			if err := v.finishUser(ctx, rec, result); err != nil {
				return nil, err
			}

			result.Record = &Validated{Index: index, User: rec}
		}
	case jobs.ResourceArticles:
		rec, errs := decodeArticle(canonical)
		result.Errors = append(result.Errors, errs...)

		if len(result.Errors) == 0 {
			if err := v.finishArticle(ctx, rec, result); err != nil {
				return nil, err
			}

			result.Record = &Validated{Index: index, Article: rec}
		}
	case jobs.ResourceComments:
		rec, errs := decodeComment(canonical)
		result.Errors = append(result.Errors, errs...)

		if len(result.Errors) == 0 {
			if err := v.finishComment(ctx, rec, result); err != nil {
				return nil, err
			}

			result.Record = &Validated{Index: index, Comment: rec}
		}
	}

	result.Valid = len(result.Errors) == 0
	if !result.Valid {
		result.Record = nil
	}

	return result, nil
}

// canonicalizeRecord rewrites keys to canonical snake-case names and rejects
// keys outside the resource's import set.
func (v *Validator) canonicalizeRecord(raw map[string]any) (map[string]any, []*apperr.Error) {
	allowed := importKeys[v.resource]
	out := make(map[string]any, len(raw))

	var errs []*apperr.Error

	for key, value := range raw {
		canonical := CanonicalKey(key)
		if !allowed[canonical] {
			errs = append(errs, apperr.Newf(
				apperr.CodeInvalidRecordStructure, "unknown field %q", key,
			).WithField(canonical))

			continue
		}

		out[canonical] = value
	}

	return out, errs
}

// runTagChecks runs go-playground struct validation and converts failures
// into taxonomy errors.
func (v *Validator) runTagChecks(rec any) []*apperr.Error {
	err := v.check.Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []*apperr.Error{apperr.New(apperr.CodeInvalidRecordStructure, err.Error())}
	}

	out := make([]*apperr.Error, 0, len(verrs))

	for _, fe := range verrs {
		var appErr *apperr.Error

		switch fe.Tag() {
		case "email", "kebabslug":
			appErr = apperr.Newf(apperr.CodeInvalidFormat, "%s has invalid format", fe.Field())
		case "oneof":
			appErr = apperr.Newf(apperr.CodeInvalidEnumValue, "%s must be one of: %s", fe.Field(), fe.Param())
		case "max":
			appErr = apperr.Newf(apperr.CodeValueTooLong, "%s exceeds %s characters", fe.Field(), fe.Param())
		case "min":
			appErr = apperr.Newf(apperr.CodeValueTooShort, "%s is below %s characters", fe.Field(), fe.Param())
		default:
			appErr = apperr.Newf(apperr.CodeInvalidFormat, "%s failed %s validation", fe.Field(), fe.Tag())
		}

		out = append(out, appErr.WithField(fe.Field()).WithValue(sanitizeValue(fe.Value())))
	}

	return out
}

// finishUser applies normalization, cross-field rules, batch dedupe and store
// uniqueness to a decoded user record.
func (v *Validator) finishUser(ctx context.Context, rec *UserRecord, result *Result) error {
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))

	if rec.ID == nil && rec.Email == "" {
		result.Errors = append(result.Errors, apperr.New(
			apperr.CodeMissingRequiredField, "user record must have id or email",
		).WithField("id"))

		return nil
	}

	if errs := v.runTagChecks(rec); len(errs) > 0 {
		result.Errors = append(result.Errors, errs...)

		return nil
	}

	if rec.Email == "" {
		return nil
	}

	// Batch-local dedupe: first record claims the email.
	if v.seenEmails[rec.Email] {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeDuplicateValue, "email %q already used earlier in this file", rec.Email,
		).WithField("email").WithValue(rec.Email))

		return nil
	}

	ownerID, taken, err := v.cache.UserIDByEmail(ctx, rec.Email)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreLookup, err)
	}

	if taken && (rec.ID == nil || *rec.ID != ownerID) {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeDuplicateValue, "email %q already exists", rec.Email,
		).WithField("email").WithValue(rec.Email))

		return nil
	}

	v.seenEmails[rec.Email] = true

	return nil
}

// finishArticle applies normalization, cross-field rules, reference checks,
// batch dedupe and store uniqueness to a decoded article record.
func (v *Validator) finishArticle(ctx context.Context, rec *ArticleRecord, result *Result) error {
	rec.Slug = strings.ToLower(strings.TrimSpace(rec.Slug))
	rec.Tags = normalizeTags(rec.Tags)

	if rec.ID == nil && rec.Slug == "" {
		result.Errors = append(result.Errors, apperr.New(
			apperr.CodeMissingRequiredField, "article record must have id or slug",
		).WithField("id"))

		return nil
	}

	if errs := v.runTagChecks(rec); len(errs) > 0 {
		result.Errors = append(result.Errors, errs...)

		return nil
	}

	// Drafts cannot carry a publication timestamp.
	if rec.Status == "draft" && rec.PublishedAt != nil {
		result.Errors = append(result.Errors, apperr.New(
			apperr.CodeInvalidFormat, "draft articles cannot have published_at",
		).WithField("published_at"))

		return nil
	}

	if rec.AuthorID != nil {
		found, err := v.cache.UserExists(ctx, *rec.AuthorID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreLookup, err)
		}

		if !found {
			result.Errors = append(result.Errors, apperr.Newf(
				apperr.CodeInvalidReference, "author_id %d does not exist", *rec.AuthorID,
			).WithField("author_id").WithValue(fmt.Sprint(*rec.AuthorID)))

			return nil
		}
	}

	if rec.Slug == "" {
		return nil
	}

	if v.seenSlugs[rec.Slug] {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeDuplicateValue, "slug %q already used earlier in this file", rec.Slug,
		).WithField("slug").WithValue(rec.Slug))

		return nil
	}

	ownerID, taken, err := v.cache.ArticleIDBySlug(ctx, rec.Slug)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreLookup, err)
	}

	if taken && (rec.ID == nil || *rec.ID != ownerID) {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeDuplicateValue, "slug %q already exists", rec.Slug,
		).WithField("slug").WithValue(rec.Slug))

		return nil
	}

	v.seenSlugs[rec.Slug] = true

	return nil
}

// finishComment applies required-field and reference checks to a decoded
// comment record.
func (v *Validator) finishComment(ctx context.Context, rec *CommentRecord, result *Result) error {
	if rec.ID == nil {
		result.Errors = append(result.Errors, apperr.New(
			apperr.CodeMissingRequiredField, "comment record must have id",
		).WithField("id"))

		return nil
	}

	if rec.ArticleID == nil {
		result.Errors = append(result.Errors, apperr.New(
			apperr.CodeMissingRequiredField, "comment record must have article_id",
		).WithField("article_id"))

		return nil
	}

	if rec.UserID == nil {
		result.Errors = append(result.Errors, apperr.New(
			apperr.CodeMissingRequiredField, "comment record must have user_id",
		).WithField("user_id"))

		return nil
	}

	if words := len(strings.Fields(rec.Body)); words > commentBodyWordCap {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeValueTooLong, "body exceeds %d words (got %d)", commentBodyWordCap, words,
		).WithField("body"))

		return nil
	}

	found, err := v.cache.ArticleExists(ctx, *rec.ArticleID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreLookup, err)
	}

	if !found {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeInvalidReference, "article_id %d does not exist", *rec.ArticleID,
		).WithField("article_id").WithValue(fmt.Sprint(*rec.ArticleID)))

		return nil
	}

	found, err = v.cache.UserExists(ctx, *rec.UserID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreLookup, err)
	}

	if !found {
		result.Errors = append(result.Errors, apperr.Newf(
			apperr.CodeInvalidReference, "user_id %d does not exist", *rec.UserID,
		).WithField("user_id").WithValue(fmt.Sprint(*rec.UserID)))

		return nil
	}

	return nil
}

// Cache exposes the per-run reference cache so the upsert engine can claim
// natural keys as batches land.
func (v *Validator) Cache() *RefCache {
	return v.cache
}

// ---- decoding & coercion ----

func decodeUser(raw map[string]any) (*UserRecord, []*apperr.Error) {
	d := newDecoder(raw)
	rec := &UserRecord{
		ID:        d.optionalID("id"),
		Email:     d.optionalString("email"),
		Name:      d.optionalString("name"),
		Role:      d.optionalString("role"),
		Active:    d.optionalBool("active"),
		CreatedAt: d.optionalTime("created_at"),
		UpdatedAt: d.optionalTime("updated_at"),
	}

	return rec, d.errs
}

func decodeArticle(raw map[string]any) (*ArticleRecord, []*apperr.Error) {
	d := newDecoder(raw)
	rec := &ArticleRecord{
		ID:          d.optionalID("id"),
		Slug:        d.optionalString("slug"),
		Title:       d.optionalString("title"),
		Body:        d.optionalString("body"),
		AuthorID:    d.optionalID("author_id"),
		Status:      d.optionalString("status"),
		PublishedAt: d.optionalTime("published_at"),
		CreatedAt:   d.optionalTime("created_at"),
		UpdatedAt:   d.optionalTime("updated_at"),
	}

	if _, ok := raw["tags"]; ok {
		rec.TagsProvided = true
		rec.Tags = d.optionalStringSlice("tags")
	}

	return rec, d.errs
}

func decodeComment(raw map[string]any) (*CommentRecord, []*apperr.Error) {
	d := newDecoder(raw)
	rec := &CommentRecord{
		ID:        d.optionalID("id"),
		ArticleID: d.optionalID("article_id"),
		UserID:    d.optionalID("user_id"),
		Body:      d.optionalString("body"),
		CreatedAt: d.optionalTime("created_at"),
	}

	return rec, d.errs
}

// decoder pulls typed values out of a canonical-keyed raw record, collecting
// coercion failures as taxonomy errors.
type decoder struct {
	raw  map[string]any
	errs []*apperr.Error
}

func newDecoder(raw map[string]any) *decoder {
	return &decoder{raw: raw}
}

func (d *decoder) optionalID(key string) *int64 {
	value, ok := d.raw[key]
	if !ok || value == nil {
		return nil
	}

	n, err := coercePositiveInt(value)
	if err != nil {
		d.errs = append(d.errs, apperr.Newf(
			apperr.CodeInvalidType, "%s %s", key, err.Error(),
		).WithField(key).WithValue(sanitizeValue(value)))

		return nil
	}

	return &n
}

func (d *decoder) optionalString(key string) string {
	value, ok := d.raw[key]
	if !ok || value == nil {
		return ""
	}

	s, ok := value.(string)
	if !ok {
		d.errs = append(d.errs, apperr.Newf(
			apperr.CodeInvalidType, "%s must be a string", key,
		).WithField(key).WithValue(sanitizeValue(value)))

		return ""
	}

	return strings.TrimSpace(s)
}

func (d *decoder) optionalBool(key string) *bool {
	value, ok := d.raw[key]
	if !ok || value == nil {
		return nil
	}

	b, err := coerceBool(value)
	if err != nil {
		d.errs = append(d.errs, apperr.Newf(
			apperr.CodeInvalidType, "%s must be a boolean", key,
		).WithField(key).WithValue(sanitizeValue(value)))

		return nil
	}

	return &b
}

func (d *decoder) optionalTime(key string) *time.Time {
	value, ok := d.raw[key]
	if !ok || value == nil {
		return nil
	}

	s, ok := value.(string)
	if !ok {
		d.errs = append(d.errs, apperr.Newf(
			apperr.CodeInvalidType, "%s must be an ISO date-time string", key,
		).WithField(key).WithValue(sanitizeValue(value)))

		return nil
	}

	t, err := parseISOTime(s)
	if err != nil {
		d.errs = append(d.errs, apperr.Newf(
			apperr.CodeInvalidFormat, "%s is not an ISO date-time", key,
		).WithField(key).WithValue(sanitizeValue(value)))

		return nil
	}

	return &t
}

func (d *decoder) optionalStringSlice(key string) []string {
	value, ok := d.raw[key]
	if !ok || value == nil {
		return nil
	}

	items, ok := value.([]any)
	if !ok {
		if typed, isTyped := value.([]string); isTyped {
			return typed
		}

		d.errs = append(d.errs, apperr.Newf(
			apperr.CodeInvalidType, "%s must be an array of strings", key,
		).WithField(key).WithValue(sanitizeValue(value)))

		return nil
	}

	out := make([]string, 0, len(items))

	for _, item := range items {
		s, isString := item.(string)
		if !isString {
			d.errs = append(d.errs, apperr.Newf(
				apperr.CodeInvalidType, "%s must be an array of strings", key,
			).WithField(key).WithValue(sanitizeValue(item)))

			return nil
		}

		out = append(out, s)
	}

	return out
}

// normalizeTags trims, drops empties, and deduplicates preserving order.
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))

	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" || seen[trimmed] {
			continue
		}

		seen[trimmed] = true

		out = append(out, trimmed)
	}

	return out
}

// sanitizeValue renders an offending value for the error journal, truncated
// so journal rows stay bounded.
func sanitizeValue(value any) string {
	const maxValueLen = 200

	s := fmt.Sprint(value)
	if len(s) > maxValueLen {
		return s[:maxValueLen]
	}

	return s
}
