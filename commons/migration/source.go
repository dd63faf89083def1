package migration

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
)

// setSource serves a Set to golang-migrate as a read-only, up-only source driver.
type setSource struct {
	set *Set
}

var _ source.Driver = (*setSource)(nil)

func newSetSource(set *Set) *setSource {
	return &setSource{set: set}
}

func (s *setSource) Open(_ string) (source.Driver, error) {
	return nil, fmt.Errorf("migration: set source cannot be opened by URL")
}

func (s *setSource) Close() error {
	return nil
}

func (s *setSource) First() (uint, error) {
	if s.set.Len() == 0 {
		return 0, notExist("first", 0)
	}

	return uint(s.set.migrations[0].Version), nil
}

func (s *setSource) Prev(version uint) (uint, error) {
	for i := len(s.set.migrations) - 1; i >= 0; i-- {
		if uint(s.set.migrations[i].Version) < version {
			return uint(s.set.migrations[i].Version), nil
		}
	}

	return 0, notExist("prev", version)
}

func (s *setSource) Next(version uint) (uint, error) {
	for _, m := range s.set.migrations {
		if uint(m.Version) > version {
			return uint(m.Version), nil
		}
	}

	return 0, notExist("next", version)
}

func (s *setSource) ReadUp(version uint) (io.ReadCloser, string, error) {
	m, ok := s.set.version(int64(version))
	if !ok {
		return nil, "", notExist("read up", version)
	}

	return io.NopCloser(strings.NewReader(m.UpScript)), m.Description, nil
}

func (s *setSource) ReadDown(version uint) (io.ReadCloser, string, error) {
	return nil, "", notExist("read down", version)
}

func notExist(op string, version uint) error {
	return &os.PathError{Op: op, Path: fmt.Sprintf("migration %d", version), Err: os.ErrNotExist}
}
