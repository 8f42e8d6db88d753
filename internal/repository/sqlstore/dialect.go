package sqlstore

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the handful of places where SQLite and Postgres differ.
// Everything else in this package is plain SQL shared by both.
type dialect struct {
	name          string
	driver        string
	dollarParams  bool
	timestampType string
	// lower is the SQL function used to case-fold text columns for keyword
	// search. It must fold the same way as strings.ToLower, which is applied
	// to the keyword on the Go side.
	lower string
	// pragmas are appended to SQLite DSNs as _pragma parameters. The driver
	// runs them on every new connection in the pool, not just the first.
	pragmas []string
}

// unicodeLowerFunc is registered with the SQLite driver because SQLite's
// built-in LOWER only folds ASCII: LOWER('CRÈME') is 'crÈme', which never
// matches a keyword lowered in Go. Postgres's LOWER is locale aware and
// needs no help.
const unicodeLowerFunc = "unicode_lower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(unicodeLowerFunc, 1, unicodeLower)
}

// unicodeLower is strings.ToLower as an SQL function. NULL stays NULL.
func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return strings.ToLower(fmt.Sprint(v)), nil
	}
}

var (
	sqliteDialect = dialect{
		name:          "sqlite",
		driver:        "sqlite",
		timestampType: "DATETIME",
		lower:         unicodeLowerFunc,
		pragmas: []string{
			"foreign_keys(1)",
			"journal_mode(WAL)",
			"busy_timeout(5000)",
		},
	}
	postgresDialect = dialect{
		name:          "postgres",
		driver:        "postgres",
		dollarParams:  true,
		timestampType: "TIMESTAMPTZ",
		lower:         "LOWER",
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pq":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// dsn adds the dialect's per-connection pragmas to raw. A PRAGMA executed
// once through *sql.DB only reaches whichever pooled connection ran it, so
// settings like foreign_keys have to travel in the DSN.
func (d dialect) dsn(raw string) string {
	if len(d.pragmas) == 0 {
		return raw
	}
	params := make([]string, 0, len(d.pragmas))
	for _, p := range d.pragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + strings.Join(params, "&")
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres. Queries in
// this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func (d dialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
