package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/conveyor-io/conveyor/internal/records"
)

// exportRow is one entity flattened for projection: the cursor id plus the
// per-field values.
type exportRow struct {
	id     int64
	values map[string]any
}

func userRow(rec *records.UserRecord) exportRow {
	var id int64
	if rec.ID != nil {
		id = *rec.ID
	}

	return exportRow{
		id: id,
		values: map[string]any{
			"id":         rec.ID,
			"email":      rec.Email,
			"name":       rec.Name,
			"role":       rec.Role,
			"active":     rec.Active,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
		},
	}
}

func articleRow(rec *records.ArticleRecord) exportRow {
	var id int64
	if rec.ID != nil {
		id = *rec.ID
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	return exportRow{
		id: id,
		values: map[string]any{
			"id":           rec.ID,
			"slug":         rec.Slug,
			"title":        rec.Title,
			"body":         rec.Body,
			"author_id":    rec.AuthorID,
			"tags":         tags,
			"published_at": rec.PublishedAt,
			"status":       rec.Status,
		},
	}
}

func commentRow(rec *records.CommentRecord) exportRow {
	var id int64
	if rec.ID != nil {
		id = *rec.ID
	}

	return exportRow{
		id: id,
		values: map[string]any{
			"id":         rec.ID,
			"article_id": rec.ArticleID,
			"user_id":    rec.UserID,
			"body":       rec.Body,
			"created_at": rec.CreatedAt,
		},
	}
}

// encode serializes the row as a compact JSON object with keys in the order
// of fields. encoding/json alone cannot do this for maps, so the object is
// assembled key by key.
func (r exportRow) encode(fields []string) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(field)
		if err != nil {
			return nil, fmt.Errorf("encoding field name %q: %w", field, err)
		}

		value, err := json.Marshal(r.values[field])
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", field, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
