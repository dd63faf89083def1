package dbtest

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	namePrefix    = "db_"
	maxSlugLength = 20
	hashLength    = 16

	// MaxIdentifierLength is the longest identifier PostgreSQL accepts without truncating.
	MaxIdentifierLength = 63
)

// DatabaseName derives the name of the test database for testPath running against the
// migration set with the given fingerprint. Sequence 0 has no suffix; higher sequences
// disambiguate from databases preserved by earlier failed runs.
//
// The result is deterministic, only contains [a-z0-9_] and never exceeds 63 bytes.
func DatabaseName(testPath, fingerprint string, seq int) string {
	sum := sha256.Sum256([]byte(testPath + "\x00" + fingerprint))
	hash := hex.EncodeToString(sum[:])[:hashLength]

	var b strings.Builder

	b.WriteString(namePrefix)

	if slug := slugify(testPath); slug != "" {
		b.WriteString(slug)
		b.WriteByte('_')
	}

	b.WriteString(hash)

	if seq > 0 {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(seq))
	}

	return b.String()
}

// slugify keeps the readable tail of a test path: lowercase alphanumerics, runs of
// anything else collapsed to one underscore, at most maxSlugLength bytes.
func slugify(testPath string) string {
	var b strings.Builder

	underscore := false

	for _, r := range strings.ToLower(testPath) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')

			underscore = true
		}
	}

	slug := strings.Trim(b.String(), "_")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[len(slug)-maxSlugLength:], "_")
	}

	return slug
}
