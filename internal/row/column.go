// Package row implements the lock-free row registry shared by every
// concurrency-control protocol: parallel value/lsn/rw_log columns indexed
// by a dense row offset, plus the pre-read-version (PRV) protocol that
// totally orders operations on a row.
package row

// ColType enumerates the scalar payload types a benchmark table column can
// carry. Unlike a general-purpose relational engine this prototype only
// ever needs a handful of them — the rest of the SQL type system is out of
// scope (see the non-goals carried from the distilled design).
type ColType int

const (
	IntType ColType = iota
	Int64Type
	Float64Type
	StringType
	BoolType
)

func (t ColType) String() string {
	switch t {
	case IntType:
		return "INT"
	case Int64Type:
		return "INT64"
	case Float64Type:
		return "FLOAT64"
	case StringType:
		return "STRING"
	case BoolType:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// Column describes one value column of a table: its name and declared
// type. The registry itself is generic over the Go value type actually
// stored (see Registry[V]); ColType is metadata carried alongside for
// tooling (cmd/ccbench scenario definitions) and diagnostics.
type Column struct {
	Name string
	Type ColType
}
