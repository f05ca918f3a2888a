package storage

import (
	"fmt"
	"strings"

	"github.com/conveyor-io/conveyor/internal/records"
)

// whereClauses renders validated filters into SQL predicates against the
// given column prefix. Filter keys are already canonical and typed, so they
// interpolate as identifiers safely; values always go through placeholders.
// Keys are walked in sorted order for deterministic SQL.
func whereClauses(prefix string, filters records.Filters, args []any) ([]string, []any) {
	var clauses []string

	for _, key := range filters.SortedKeys() {
		col := prefix + key

		switch v := filters[key].(type) {
		case *records.DateRange:
			if v.Gt != nil {
				args = append(args, *v.Gt)
				clauses = append(clauses, fmt.Sprintf("%s > $%d", col, len(args)))
			}

			if v.Gte != nil {
				args = append(args, *v.Gte)
				clauses = append(clauses, fmt.Sprintf("%s >= $%d", col, len(args)))
			}

			if v.Lt != nil {
				args = append(args, *v.Lt)
				clauses = append(clauses, fmt.Sprintf("%s < $%d", col, len(args)))
			}

			if v.Lte != nil {
				args = append(args, *v.Lte)
				clauses = append(clauses, fmt.Sprintf("%s <= $%d", col, len(args)))
			}
		case string:
			args = append(args, v)

			if key == "email" || key == "slug" {
				clauses = append(clauses, fmt.Sprintf("LOWER(%s) = LOWER($%d)", col, len(args)))
			} else {
				clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
			}
		default:
			args = append(args, v)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}

	return clauses, args
}

// cursorPage renders the exclusive id cursor, optional grouping, ordering,
// and limit into a query tail. groupBy may be empty.
func cursorPage(idCol, groupBy string, afterID int64, limit int, clauses []string, args []any) (string, []any) {
	args = append(args, afterID)
	clauses = append(clauses, fmt.Sprintf("%s > $%d", idCol, len(args)))

	tail := "WHERE " + strings.Join(clauses, " AND ")
	if groupBy != "" {
		tail += " GROUP BY " + groupBy
	}

	args = append(args, limit)
	tail += fmt.Sprintf(" ORDER BY %s LIMIT $%d", idCol, len(args))

	return tail, args
}
