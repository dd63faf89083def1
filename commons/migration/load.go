package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrDuplicateVersion is returned when two migrations share a version number.
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrNoMigrations is returned by Load when the directory holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")
)

// fileName matches both "0001_create_users.up.sql" (golang-migrate layout) and
// "0001_create_users.sql". Down migrations are ignored.
var fileName = regexp.MustCompile(`^(\d+)_([^.]+)(\.up)?\.sql$`)

// Load reads every migration in dir of fsys. Works with embed.FS and os.DirFS.
func Load(fsys fs.FS, dir string) (*Set, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations dir %q: %w", dir, err)
	}

	migrations := make([]Migration, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".down.sql") {
			continue
		}

		match := fileName.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}

		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %q: %w", e.Name(), err)
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", e.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(match[2], "_", " "),
			UpScript:    string(content),
		})
	}

	if len(migrations) == 0 {
		return nil, fmt.Errorf("%w in %q", ErrNoMigrations, dir)
	}

	return New(migrations...)
}

// LoadFixtures reads the named fixture files from dir of fsys, in the given order.
// A name without extension gets ".sql" appended.
func LoadFixtures(fsys fs.FS, dir string, names ...string) ([]Fixture, error) {
	fixtures := make([]Fixture, 0, len(names))

	for _, name := range names {
		file := name
		if path.Ext(file) == "" {
			file += ".sql"
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture %q: %w", name, err)
		}

		fixtures = append(fixtures, Fixture{Name: file, Script: string(content)})
	}

	return fixtures, nil
}
