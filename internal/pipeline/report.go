package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/jobs"
)

// generateReport writes the job's journaled errors to an error-report
// artifact in the job's format and returns its storage key. Rows stream
// through in journal pages so a large journal never loads fully into memory.
func (i *Importer) generateReport(ctx context.Context, job *jobs.Job) (string, error) {
	key := "import-errors/" + job.ID + "." + job.Format.Ext()

	out, err := i.reports.Create(ctx, key)
	if err != nil {
		return "", fmt.Errorf("creating error report: %w", err)
	}

	fw := newArtifactWriter(out, job.Format)

	for offset := 0; ; offset += reportPageSize {
		page, err := i.journal.ListPage(ctx, job.ID, reportPageSize, offset)
		if err != nil {
			_ = blob.Discard(out)

			return "", fmt.Errorf("reading error journal: %w", err)
		}

		for _, row := range page {
			body, err := json.Marshal(row)
			if err != nil {
				_ = blob.Discard(out)

				return "", fmt.Errorf("encoding error row: %w", err)
			}

			if err := fw.Record(body); err != nil {
				_ = blob.Discard(out)

				return "", err
			}
		}

		if len(page) < reportPageSize {
			break
		}
	}

	if err := fw.End(); err != nil {
		_ = blob.Discard(out)

		return "", err
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("publishing error report: %w", err)
	}

	return key, nil
}
