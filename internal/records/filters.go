// Package records provides per-entity record validation, filter and
// projection validation, and the per-job reference cache used by imports.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/jobs"
)

// Sentinel errors for filter and projection validation.
var (
	ErrUnknownFilterKey   = errors.New("unknown filter key")
	ErrUnknownField       = errors.New("unknown field")
	ErrInvalidFilterValue = errors.New("invalid filter value")
	ErrInvalidDateBound   = errors.New("invalid date bound")
	ErrMalformedFilters   = errors.New("malformed filters")
	ErrUnsupportedResource = errors.New("unsupported resource")
)

// DateRange is a half-open or closed time window. At least one bound is set.
type DateRange struct {
	Gt  *time.Time `json:"gt,omitempty"`
	Gte *time.Time `json:"gte,omitempty"`
	Lt  *time.Time `json:"lt,omitempty"`
	Lte *time.Time `json:"lte,omitempty"`
}

// Filters holds canonical-keyed, typed filter values. Values are one of
// int64, string, bool, or *DateRange.
type Filters map[string]any

// filterKeys enumerates the accepted canonical filter keys per resource.
var filterKeys = map[jobs.Resource]map[string]bool{
	jobs.ResourceUsers: {
		"id": true, "email": true, "role": true, "name": true, "active": true, "created_at": true,
	},
	jobs.ResourceArticles: {
		"id": true, "slug": true, "status": true, "author_id": true, "published_at": true, "created_at": true,
	},
	jobs.ResourceComments: {
		"id": true, "article_id": true, "user_id": true, "created_at": true,
	},
}

// exportFields enumerates the canonical export field set per resource, in
// canonical emission order.
var exportFields = map[jobs.Resource][]string{
	jobs.ResourceUsers:    {"id", "email", "name", "role", "active", "created_at", "updated_at"},
	jobs.ResourceArticles: {"id", "slug", "title", "body", "author_id", "tags", "published_at", "status"},
	jobs.ResourceComments: {"id", "article_id", "user_id", "body", "created_at"},
}

// dateFilterKeys are the filter keys whose values are date ranges.
var dateFilterKeys = map[string]bool{
	"created_at":   true,
	"published_at": true,
	"updated_at":   true,
}

// keyAliases rewrites recognized spellings that plain camel-to-snake
// conversion does not produce.
var keyAliases = map[string]string{
	"tag_list": "tags",
	"taglist":  "tags",
}

// CanonicalKey canonicalizes a filter or field key: camelCase is split to
// snake_case, the result is lower-cased, and recognized aliases are rewritten.
// The function is idempotent: CanonicalKey(CanonicalKey(k)) == CanonicalKey(k).
func CanonicalKey(key string) string {
	var b strings.Builder

	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		b.WriteRune(r)
	}

	canonical := strings.ToLower(b.String())
	if alias, ok := keyAliases[canonical]; ok {
		return alias
	}

	return canonical
}

// ExportFields returns the canonical export field enumeration for a resource.
// The returned slice is shared; callers must not mutate it.
func ExportFields(resource jobs.Resource) []string {
	return exportFields[resource]
}

// ValidateFilters canonicalizes and strict-validates a filter mapping for the
// resource. Input may be raw JSON text or an already-parsed mapping. Unknown
// keys are rejected. An empty result is nil, not an empty mapping.
func ValidateFilters(resource jobs.Resource, raw any) (Filters, error) {
	if _, ok := filterKeys[resource]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, resource)
	}

	parsed, err := parseFilterInput(raw)
	if err != nil {
		return nil, err
	}

	if len(parsed) == 0 {
		return nil, nil
	}

	allowed := filterKeys[resource]
	out := make(Filters, len(parsed))

	for key, value := range parsed {
		canonical := CanonicalKey(key)
		if !allowed[canonical] {
			return nil, fmt.Errorf("%w: %q for resource %s", ErrUnknownFilterKey, key, resource)
		}

		typed, err := coerceFilterValue(canonical, value)
		if err != nil {
			return nil, err
		}

		out[canonical] = typed
	}

	if len(out) == 0 {
		return nil, nil
	}

	return out, nil
}

// ValidateFields canonicalizes and validates a projection field list for the
// resource. Input may be a comma-separated string, a JSON array text, or a
// []string. Fields outside the resource's export set are rejected. Duplicates
// collapse. An empty selection is nil (full projection).
func ValidateFields(resource jobs.Resource, raw any) ([]string, error) {
	enumeration, ok := exportFields[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, resource)
	}

	names, err := parseFieldInput(raw)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(enumeration))
	for _, f := range enumeration {
		allowed[f] = true
	}

	selected := make(map[string]bool, len(names))

	for _, name := range names {
		canonical := CanonicalKey(strings.TrimSpace(name))
		if canonical == "" {
			continue
		}

		if !allowed[canonical] {
			return nil, fmt.Errorf("%w: %q for resource %s", ErrUnknownField, name, resource)
		}

		selected[canonical] = true
	}

	if len(selected) == 0 {
		return nil, nil
	}

	// Emit in canonical enumeration order so identical selections produce
	// identical artifacts.
	out := make([]string, 0, len(selected))

	for _, f := range enumeration {
		if selected[f] {
			out = append(out, f)
		}
	}

	return out, nil
}

// parseFilterInput accepts raw JSON text, json.RawMessage, or a mapping.
func parseFilterInput(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case Filters:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFilters, err)
		}

		return parsed, nil
	case json.RawMessage:
		return parseFilterInput(string(v))
	case []byte:
		return parseFilterInput(string(v))
	}

	return nil, fmt.Errorf("%w: unsupported input type %T", ErrMalformedFilters, raw)
}

// parseFieldInput accepts a comma-separated string, JSON array text, or []string.
func parseFieldInput(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}

		if strings.HasPrefix(trimmed, "[") {
			var names []string
			if err := json.Unmarshal([]byte(trimmed), &names); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedFilters, err)
			}

			return names, nil
		}

		return strings.Split(trimmed, ","), nil
	}

	return nil, fmt.Errorf("%w: unsupported field list type %T", ErrMalformedFilters, raw)
}

// coerceFilterValue applies per-key typing: positive integers for id keys,
// booleans for active, date ranges for date keys, trimmed non-empty strings
// otherwise.
func coerceFilterValue(key string, value any) (any, error) {
	if dateFilterKeys[key] {
		return coerceDateFilter(key, value)
	}

	switch key {
	case "id", "author_id", "article_id", "user_id":
		n, err := coercePositiveInt(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFilterValue, key, err)
		}

		return n, nil
	case "active":
		b, err := coerceBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFilterValue, key, err)
		}

		return b, nil
	}

	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidFilterValue, key)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: %s must be non-empty", ErrInvalidFilterValue, key)
	}

	return s, nil
}

// coerceDateFilter accepts an ISO date-time string (treated as gte) or an
// object subset of {gt, gte, lt, lte} with at least one bound.
func coerceDateFilter(key string, value any) (*DateRange, error) {
	switch v := value.(type) {
	case string:
		t, err := parseISOTime(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDateBound, key, err)
		}

		return &DateRange{Gte: &t}, nil
	case map[string]any:
		r := &DateRange{}
		bounds := 0

		for boundKey, boundVal := range v {
			s, ok := boundVal.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be an ISO string", ErrInvalidDateBound, key, boundKey)
			}

			t, err := parseISOTime(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %w", ErrInvalidDateBound, key, boundKey, err)
			}

			switch CanonicalKey(boundKey) {
			case "gt":
				r.Gt = &t
			case "gte":
				r.Gte = &t
			case "lt":
				r.Lt = &t
			case "lte":
				r.Lte = &t
			default:
				return nil, fmt.Errorf("%w: unknown bound %q on %s", ErrInvalidDateBound, boundKey, key)
			}

			bounds++
		}

		if bounds == 0 {
			return nil, fmt.Errorf("%w: %s requires at least one bound", ErrInvalidDateBound, key)
		}

		return r, nil
	}

	return nil, fmt.Errorf("%w: %s must be an ISO string or bound object", ErrInvalidDateBound, key)
}

// coercePositiveInt accepts integers, JSON numbers, and numeric strings.
func coercePositiveInt(value any) (int64, error) {
	var n int64

	switch v := value.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		n = int64(v)
		if float64(n) != v {
			return 0, errors.New("must be an integer")
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errors.New("must be a positive integer")
		}

		n = parsed
	default:
		return 0, errors.New("must be a positive integer")
	}

	if n <= 0 {
		return 0, errors.New("must be positive")
	}

	return n, nil
}

// coerceBool accepts booleans and common string/int spellings.
func coerceBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	case float64:
		if v == 1 {
			return true, nil
		}

		if v == 0 {
			return false, nil
		}
	}

	return false, errors.New("must be a boolean")
}

// parseISOTime parses an ISO 8601 / RFC 3339 date-time, accepting a bare date.
func parseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("not an ISO date-time: %q", s)
}

// SortedKeys returns the canonical keys of a filter mapping in sorted order.
// Used for deterministic SQL generation and logging.
func (f Filters) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// FieldError converts a filter validation error into a taxonomy error for the
// HTTP layer.
func FieldError(err error) *apperr.Error {
	return apperr.New(apperr.CodeInvalidFormat, err.Error())
}
