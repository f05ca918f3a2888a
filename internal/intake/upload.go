package intake

import (
	"mime"
	"strings"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

// ValidateUpload checks an uploaded import payload's declared content type
// and size before it is accepted. A zero or negative size is rejected as an
// empty file; a size over the cap is rejected before any bytes are stored.
func ValidateUpload(cfg *Config, contentType string, size int64) error {
	if size <= 0 {
		return apperr.New(apperr.CodeEmptyFile, "uploaded file is empty")
	}

	if size > cfg.MaxFileSize {
		return apperr.Newf(
			apperr.CodeFileTooLarge, "file size %d exceeds the %d byte limit", size, cfg.MaxFileSize,
		).WithDetails(map[string]any{"maxFileSize": cfg.MaxFileSize, "fileSize": size})
	}

	if err := validateContentType(contentType); err != nil {
		return err
	}

	return nil
}

func validateContentType(contentType string) error {
	if strings.TrimSpace(contentType) == "" {
		// Clients that omit the header are given the benefit of the doubt;
		// the parser rejects non-JSON content anyway.
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return apperr.Newf(apperr.CodeUnsupportedFormat, "unparseable content type %q", contentType)
	}

	if !allowedContentTypes[strings.ToLower(mediaType)] {
		return apperr.Newf(
			apperr.CodeUnsupportedFormat, "content type %q is not accepted for imports", mediaType,
		).WithDetails(map[string]any{"contentType": mediaType})
	}

	return nil
}
