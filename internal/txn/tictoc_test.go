package txn

import (
	"testing"

	"github.com/nfncc/ccengine/internal/cc/tictoc"
	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
)

func newTicToc(t *testing.T) (*TicTocCoordinator[int64], uint64) {
	t.Helper()
	epoch := ds.NewEpochManager()
	reg := row.NewRegistry[int64]("accounts", []row.Column{{Name: "v", Type: row.Int64Type}}, epoch)
	table := tictoc.NewTable[int64](reg, 64)
	rowID := table.Insert(0)
	return NewTicTocCoordinator[int64](table, NoOpLogger{}), rowID
}

func TestTicTocCommitInstallsValue(t *testing.T) {
	c, rowID := newTicToc(t)

	t1 := c.Begin()
	if err := c.Write(t1, rowID, 7); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Commit(t1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	t2 := c.Begin()
	v, err := c.Read(t2, rowID)
	if err != nil || v != 7 {
		t.Fatalf("read after commit = (%v, %v), want (7, nil)", v, err)
	}
}

// TestTicTocExtensionAllowsStaleReaderToCommit is scenario 6: after a writer
// commits over an unrelated row, a transaction whose commit_ts lies past the
// rts of its earlier read gets that read's delta extended instead of being
// forced to abort, since the read row's wts has not changed.
func TestTicTocExtensionAllowsStaleReaderToCommit(t *testing.T) {
	c, rowA := newTicToc(t)
	rowB := c.table.Insert(0)

	reader := c.Begin()
	if _, err := c.Read(reader, rowA); err != nil {
		t.Fatalf("reader read: %v", err)
	}

	writer := c.Begin()
	if err := c.Write(writer, rowB, 55); err != nil {
		t.Fatalf("writer write: %v", err)
	}
	if err := c.Commit(writer); err != nil {
		t.Fatalf("writer commit: %v", err)
	}

	// The reader's own write to rowB puts its commit_ts at rts(rowB)+1 = 2,
	// above the rts of 0 it read on rowA, so commit takes the extension path.
	if err := c.Write(reader, rowB, 66); err != nil {
		t.Fatalf("reader write: %v", err)
	}
	if err := c.Commit(reader); err != nil {
		t.Fatalf("reader commit should extend rather than abort: %v", err)
	}
}

func TestTicTocAbortDiscardsStagedWrite(t *testing.T) {
	c, rowID := newTicToc(t)

	t1 := c.Begin()
	if err := c.Write(t1, rowID, 999); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Abort(t1)

	t2 := c.Begin()
	v, err := c.Read(t2, rowID)
	if err != nil || v != 0 {
		t.Fatalf("read after abort = (%v, %v), want (0, nil)", v, err)
	}
}
