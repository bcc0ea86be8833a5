package mvcc

// CurrentOp enumerates how an operation changes the materialized current row.
type CurrentOp int

const (
	// CurrentUnchanged leaves the current row as it is.
	CurrentUnchanged CurrentOp = iota
	// CurrentInsert materializes a current row for a document without one.
	CurrentInsert
	// CurrentReplace swaps the current row's payload, revision or conflict flag.
	CurrentReplace
	// CurrentDelete removes the current row; the document has no live leaf.
	CurrentDelete
)

// FlagUpdate flips the mutable flags of one existing ledger row. The Expect*
// fields capture the snapshot the decision was computed from; the applier
// re-validates them inside the transaction and aborts with a version conflict
// when a racing writer got there first.
type FlagUpdate struct {
	Rev          string
	ExpectLeaf   bool
	ExpectWinner bool
	Leaf         bool
	Conflict     bool
	Winner       bool
	// FillStub clears the stub marker on a placeholder row whose payload
	// just arrived; leaf/winner flags are left untouched in that case.
	FillStub bool
}

// Snapshot is one immutable payload snapshot to insert alongside a ledger row.
type Snapshot struct {
	Rev         string
	PayloadJSON string
}

// CurrentChange describes the required transition of the current row.
// PayloadJSON may be empty when the winning payload must be read back from
// the history table (winner promoted from an existing sibling).
type CurrentChange struct {
	Op               CurrentOp
	Rev              string
	PayloadJSON      string
	InConflict       bool
	UpdatedAtSeconds int64
	UpdatedBy        string
}

// Result is the complete set of row-level actions a resolved operation
// requires: ledger inserts in order, flag flips, history snapshots, the
// current-row transition and whether dependent documents cascade away.
type Result struct {
	DocID         string
	Inserts       []VersionControlRecord
	Updates       []FlagUpdate
	Snapshots     []Snapshot
	Current       CurrentChange
	CascadeDelete bool
	// NewRev is the revision created by the operation, empty for pure
	// stub fills.
	NewRev string
	// WinningRev is the elected winner after the operation, empty when no
	// live leaf remains.
	WinningRev string
}
