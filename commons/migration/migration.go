// Package migration describes the ordered set of schema migrations (and optional data
// fixtures) applied to every test database, and computes the fingerprint used to tell
// schema versions apart.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Migration represents a single up migration.
type Migration struct {
	Version     int64  `json:"version"`
	Description string `json:"description"`
	UpScript    string `json:"up_script"`
	Checksum    string `json:"checksum"`
}

// Fixture is a data script applied after all migrations.
type Fixture struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

// Set is an immutable, version-ordered collection of migrations plus fixtures.
// The zero value is not usable; build one with New, Load or Empty.
type Set struct {
	migrations []Migration
	fixtures   []Fixture
}

// New validates migrations, computes their checksums and sorts them by version.
func New(migrations ...Migration) (*Set, error) {
	sorted := make([]Migration, 0, len(migrations))
	seen := make(map[int64]string, len(migrations))

	for _, m := range migrations {
		if err := validateMigration(m); err != nil {
			return nil, fmt.Errorf("invalid migration %d: %w", m.Version, err)
		}

		if other, ok := seen[m.Version]; ok {
			return nil, fmt.Errorf("%w: version %d used by %q and %q", ErrDuplicateVersion, m.Version, other, m.Description)
		}

		seen[m.Version] = m.Description
		m.Checksum = calculateChecksum(m)
		sorted = append(sorted, m)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return &Set{migrations: sorted}, nil
}

// Empty returns a set with no migrations; the test database is created bare.
func Empty() *Set {
	return &Set{}
}

// WithFixtures returns a copy of s that also applies fixtures, in the given order,
// after the migrations.
func (s *Set) WithFixtures(fixtures ...Fixture) *Set {
	out := &Set{
		migrations: s.migrations,
		fixtures:   make([]Fixture, 0, len(s.fixtures)+len(fixtures)),
	}

	out.fixtures = append(out.fixtures, s.fixtures...)
	out.fixtures = append(out.fixtures, fixtures...)

	return out
}

// Migrations returns the migrations in application order.
func (s *Set) Migrations() []Migration {
	out := make([]Migration, len(s.migrations))
	copy(out, s.migrations)

	return out
}

// Fixtures returns the fixtures in application order.
func (s *Set) Fixtures() []Fixture {
	out := make([]Fixture, len(s.fixtures))
	copy(out, s.fixtures)

	return out
}

// Len is the number of migrations.
func (s *Set) Len() int {
	return len(s.migrations)
}

// Fingerprint summarises the exact ordered content of the set. Any change to a
// migration's version, description or script, or to any fixture, changes it.
func (s *Set) Fingerprint() string {
	h := sha256.New()

	for _, m := range s.migrations {
		fmt.Fprintf(h, "migration|%d|%s\n", m.Version, m.Checksum)
	}

	for _, f := range s.fixtures {
		fmt.Fprintf(h, "fixture|%s|%d|%s\n", f.Name, len(f.Script), f.Script)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// version returns the migration with the given version, if present.
func (s *Set) version(v int64) (Migration, bool) {
	i := sort.Search(len(s.migrations), func(i int) bool {
		return s.migrations[i].Version >= v
	})
	if i < len(s.migrations) && s.migrations[i].Version == v {
		return s.migrations[i], true
	}

	return Migration{}, false
}

func validateMigration(m Migration) error {
	if m.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}

	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("description cannot be empty")
	}

	if strings.TrimSpace(m.UpScript) == "" {
		return fmt.Errorf("up script cannot be empty")
	}

	return nil
}

func calculateChecksum(m Migration) string {
	content := fmt.Sprintf("%d|%s|%s", m.Version, m.Description, m.UpScript)
	hash := sha256.Sum256([]byte(content))

	return hex.EncodeToString(hash[:])
}
