package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-dbtest/commons/dbtest"
)

func TestStateOf(t *testing.T) {
	tests := []struct {
		name   string
		record dbtest.Record
		want   string
	}{
		{name: "Should report preserved first", record: dbtest.Record{Preserved: true, InUse: false, SetupComplete: true}, want: "preserved"},
		{name: "Should report provisioning before setup completes", record: dbtest.Record{InUse: true}, want: "provisioning"},
		{name: "Should report in use", record: dbtest.Record{InUse: true, SetupComplete: true}, want: "in use"},
		{name: "Should report idle", record: dbtest.Record{SetupComplete: true}, want: "idle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateOf(tt.record))
		})
	}
}

func TestWriteList(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	t.Run("Should print a placeholder without records", func(t *testing.T) {
		var buf bytes.Buffer

		require.NoError(t, writeList(&buf, nil, now))
		assert.Equal(t, "no test databases\n", buf.String())
	})

	t.Run("Should print one row per record", func(t *testing.T) {
		var buf bytes.Buffer

		records := []dbtest.Record{
			{
				Name:          "db_testa_0123456789abcdef",
				TestPath:      "pkg.test::TestA",
				CreatedAt:     now.Add(-2 * time.Hour),
				Owner:         dbtest.Owner{Host: "host", PID: 42, StartedAt: 1700000000000},
				SetupComplete: true,
				Preserved:     true,
			},
			{
				Name:      "db_testb_fedcba9876543210",
				TestPath:  "pkg.test::TestB",
				CreatedAt: now.Add(-time.Minute),
				InUse:     true,
			},
		}

		require.NoError(t, writeList(&buf, records, now))

		out := buf.String()
		assert.Contains(t, out, "DATABASE")
		assert.Contains(t, out, "db_testa_0123456789abcdef")
		assert.Contains(t, out, "2 hours ago")
		assert.Contains(t, out, "preserved")
		assert.Contains(t, out, "42@1700000000000@host")
		assert.Contains(t, out, "1 minute ago")
		assert.Contains(t, out, "provisioning")
	})
}

func TestCommonFlagsConfig(t *testing.T) {
	t.Run("Should prefer the flag over the environment", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://env@localhost/postgres")

		c := &commonFlags{databaseURL: "postgres://flag@localhost/postgres"}

		cfg, err := c.config()
		require.NoError(t, err)
		assert.Equal(t, "postgres://flag@localhost/postgres", cfg.DatabaseURL)
	})

	t.Run("Should load the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dbtest.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://file@localhost/postgres\nmax_connections: 7\n"), 0o600))

		c := &commonFlags{configFile: path}

		cfg, err := c.config()
		require.NoError(t, err)
		assert.Equal(t, "postgres://file@localhost/postgres", cfg.DatabaseURL)
		assert.Equal(t, 7, cfg.MaxConnections)
	})

	t.Run("Should fail on a missing config file", func(t *testing.T) {
		c := &commonFlags{configFile: filepath.Join(t.TempDir(), "missing.yaml")}

		_, err := c.config()
		assert.Error(t, err)
	})
}

func TestFilterRecords(t *testing.T) {
	alice := dbtest.Owner{Host: "ci-1", PID: 10, StartedAt: 1700000000000}
	bob := dbtest.Owner{Host: "ci-2", PID: 20, StartedAt: 1700000000001}

	records := []dbtest.Record{
		{Name: "db_a", Owner: alice, Preserved: true},
		{Name: "db_b", Owner: alice},
		{Name: "db_c", Owner: bob, Preserved: true},
	}

	parsed, err := dbtest.ParseOwner(alice.String())
	require.NoError(t, err)

	tests := []struct {
		name          string
		preservedOnly bool
		owner         *dbtest.Owner
		want          []string
	}{
		{name: "Should keep everything without filters", want: []string{"db_a", "db_b", "db_c"}},
		{name: "Should keep preserved databases only", preservedOnly: true, want: []string{"db_a", "db_c"}},
		{name: "Should keep databases of the parsed owner", owner: &parsed, want: []string{"db_a", "db_b"}},
		{name: "Should combine filters", preservedOnly: true, owner: &bob, want: []string{"db_c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string

			for _, r := range filterRecords(records, tt.preservedOnly, tt.owner) {
				names = append(names, r.Name)
			}

			assert.Equal(t, tt.want, names)
		})
	}
}
