// Package intake validates import payloads on their way in: uploaded files
// are checked for type and size, remote URLs are fetched behind an allow-list
// with server-side request forgery defenses.
package intake

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conveyor-io/conveyor/internal/config"
)

const (
	defaultMaxFileSize  = 1 << 30 // 1 GiB
	defaultFetchTimeout = 30 * time.Second
)

// ErrNoAllowedHosts is returned when URL imports are attempted with an empty
// allow-list.
var ErrNoAllowedHosts = errors.New("no allowed hosts configured for URL imports")

// allowedContentTypes are the media types accepted for import payloads, for
// uploads and remote fetches alike.
var allowedContentTypes = map[string]bool{
	"application/json":     true,
	"application/ndjson":   true,
	"application/x-ndjson": true,
	"application/jsonl":    true,
	"text/plain":           true,
	"text/json":            true,
}

// Config holds intake limits and the remote-fetch allow-list.
type Config struct {
	// MaxFileSize caps import payloads in bytes, uploads and fetches alike.
	MaxFileSize int64

	// AllowedHosts is the set of hosts remote imports may fetch from.
	// Subdomains of a listed host are allowed.
	AllowedHosts []string

	// FetchTimeout bounds one remote fetch end to end.
	FetchTimeout time.Duration
}

// hostsFile is the YAML shape of the allow-list file.
type hostsFile struct {
	AllowedHosts []string `yaml:"allowedHosts"`
}

// LoadConfig loads intake configuration from environment variables. The host
// allow-list merges CONVEYOR_ALLOWED_HOSTS (comma-separated) with the YAML
// file at CONVEYOR_ALLOWED_HOSTS_FILE when set.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		MaxFileSize:  config.GetEnvInt64("CONVEYOR_MAX_FILE_SIZE", defaultMaxFileSize),
		AllowedHosts: config.ParseCommaSeparatedList(config.GetEnvStr("CONVEYOR_ALLOWED_HOSTS", "")),
		FetchTimeout: config.GetEnvDuration("CONVEYOR_FETCH_TIMEOUT", defaultFetchTimeout),
	}

	if path := config.GetEnvStr("CONVEYOR_ALLOWED_HOSTS_FILE", ""); path != "" {
		hosts, err := loadHostsFile(path)
		if err != nil {
			return nil, err
		}

		cfg.AllowedHosts = append(cfg.AllowedHosts, hosts...)
	}

	cfg.AllowedHosts = normalizeHosts(cfg.AllowedHosts)

	return cfg, nil
}

func loadHostsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading allowed hosts file: %w", err)
	}

	var parsed hostsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing allowed hosts file: %w", err)
	}

	return parsed.AllowedHosts, nil
}

func normalizeHosts(hosts []string) []string {
	seen := make(map[string]bool, len(hosts))
	out := make([]string, 0, len(hosts))

	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(h, ".")))
		if h == "" || seen[h] {
			continue
		}

		seen[h] = true

		out = append(out, h)
	}

	return out
}
