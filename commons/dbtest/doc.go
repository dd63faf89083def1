// Package dbtest gives every test its own freshly migrated PostgreSQL database.
//
// Databases are created on the server behind DATABASE_URL, named after the test and a
// fingerprint of its migrations, and recorded in a control table of the admin
// database so concurrent test binaries never hand out the same database twice.
// A database is dropped when its test passes and kept, with its name reported, when
// the test fails or panics. Databases left behind by killed processes are reaped at
// the next start.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//		dbtest.Main(m)
//	}
//
//	func TestCreateAccount(t *testing.T) {
//		dbtest.TestPool(t, migrations, func(t *testing.T, db *sql.DB) {
//			_, err := db.Exec(`INSERT INTO accounts (name) VALUES ('alice')`)
//			require.NoError(t, err)
//		})
//	}
//
// Every connection opened to a test database, whatever its handle kind, counts
// against one process-wide budget (DBTEST_MAX_CONNECTIONS). See Config for the
// remaining settings.
package dbtest
