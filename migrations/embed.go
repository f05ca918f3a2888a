// Package migrations embeds the schema migration files and validates their
// naming and pairing so malformed migrations fail fast at startup instead of
// halfway through a deploy.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var files embed.FS

// Migration filename format: 001_migration_name.up.sql / 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info describes one parsed migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// FS returns the embedded migration filesystem for the iofs source driver.
func FS() fs.FS {
	return files
}

// List returns the embedded migration files that conform to the naming
// standard, sorted by sequence then direction. Nonconforming files are
// ignored here and rejected by Validate.
func List() ([]Info, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var out []Info

	for _, entry := range entries {
		m := filenameRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}

		seq, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("parsing sequence of %s: %w", entry.Name(), err)
		}

		out = append(out, Info{
			Sequence:  seq,
			Name:      m[2],
			Direction: m[3],
			Filename:  entry.Name(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}

		return out[i].Direction < out[j].Direction
	})

	return out, nil
}

// Validate checks that every embedded SQL file conforms to the naming
// standard, that each sequence has exactly one up and one down file, and
// that sequences are gapless from 1.
func Validate() error {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	pairs := make(map[int]map[string]string)

	for _, entry := range entries {
		m := filenameRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			return fmt.Errorf("migration filename %q does not match NNN_name.(up|down).sql", entry.Name())
		}

		seq, _ := strconv.Atoi(m[1])

		if pairs[seq] == nil {
			pairs[seq] = make(map[string]string)
		}

		if existing, ok := pairs[seq][m[3]]; ok {
			return fmt.Errorf("duplicate %s migration for sequence %03d: %s and %s", m[3], seq, existing, entry.Name())
		}

		pairs[seq][m[3]] = entry.Name()
	}

	for seq := 1; seq <= len(pairs); seq++ {
		pair, ok := pairs[seq]
		if !ok {
			return fmt.Errorf("migration sequence has a gap at %03d", seq)
		}

		if pair["up"] == "" {
			return fmt.Errorf("sequence %03d is missing its up migration", seq)
		}

		if pair["down"] == "" {
			return fmt.Errorf("sequence %03d is missing its down migration", seq)
		}
	}

	return nil
}
