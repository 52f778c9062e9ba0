package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

const (
	markerUp    = "-- +goose Up"
	markerDown  = "-- +goose Down"
	markerBegin = "-- +goose StatementBegin"
	markerEnd   = "-- +goose StatementEnd"
)

var migrationNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks every .sql file in dir and reports all problems found,
// not only the first one.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var (
		problems error
		versions = make(map[string]string)
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := migrationNameRe.FindStringSubmatch(name)
		if match == nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prior, dup := versions[match[1]]; dup {
			problems = multierr.Append(problems, fmt.Errorf("%s: version %s already used by %s", name, match[1], prior))
		}
		versions[match[1]] = name

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := checkMigration(string(content)); err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", name, err))
		}
	}

	if problems == nil && len(versions) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	return problems
}

// checkMigration verifies the goose annotations: an Up section followed by a
// Down section, with balanced StatementBegin/StatementEnd pairs.
func checkMigration(content string) error {
	up := strings.Index(content, markerUp)
	down := strings.Index(content, markerDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", markerUp)
	case down < 0:
		return fmt.Errorf("missing %q", markerDown)
	case down < up:
		return fmt.Errorf("%q appears before %q", markerDown, markerUp)
	}

	open := false
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case markerBegin:
			if open {
				return fmt.Errorf("nested %q", markerBegin)
			}
			open = true
		case markerEnd:
			if !open {
				return fmt.Errorf("%q without %q", markerEnd, markerBegin)
			}
			open = false
		case markerDown:
			if open {
				return fmt.Errorf("unterminated statement before %q", markerDown)
			}
		}
	}
	if open {
		return fmt.Errorf("unterminated %q", markerBegin)
	}
	return nil
}
