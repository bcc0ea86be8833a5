package mvcc

import (
	"fmt"

	"github.com/seadriftlabs/seadrift/internal/revision"
)

// Proposal describes a locally originated, single-step edit: a brand-new
// document (post, empty ParentRev) or an extension of the current winner
// (put, ParentRev set).
type Proposal struct {
	DocID            string
	ParentRev        string
	CanonicalPayload string
	UpdatedAtSeconds int64
	UpdatedBy        string
}

// ForcedProposal describes a replication-supplied revision with an external
// identifier and ancestry chain. Forced edits may skip ancestors, branch, or
// carry a deletion marker.
type ForcedProposal struct {
	DocID            string
	Rev              revision.Revision
	AncestorHashes   []string // newest-first, excluding the revision's own hash
	CanonicalPayload string
	Deleted          bool
	UpdatedAtSeconds int64
	UpdatedBy        string
}

// DeleteRequest targets one live leaf revision for tombstoning.
type DeleteRequest struct {
	DocID            string
	Rev              string
	UpdatedAtSeconds int64
	UpdatedBy        string
}

// ResolvePost decides the row actions for a brand-new document. The new
// revision sits at depth 1 and becomes the sole live leaf and winner.
func ResolvePost(proposal Proposal, ledger []VersionControlRecord) (Result, error) {
	if _, err := verifyLedger(proposal.DocID, ledger); err != nil {
		return Result{}, err
	}
	if len(liveLeaves(ledger)) > 0 {
		return Result{}, fmt.Errorf("%w: document %q already exists", ErrVersionConflict, proposal.DocID)
	}

	rev, err := revision.ForPayload(proposal.CanonicalPayload, nil)
	if err != nil {
		return Result{}, err
	}
	if findRecord(ledger, rev.String()) != nil {
		return Result{}, fmt.Errorf("%w: revision %s already recorded for document %q", ErrVersionConflict, rev, proposal.DocID)
	}

	record := VersionControlRecord{
		DocID:            proposal.DocID,
		Rev:              rev.String(),
		UpdatedAtSeconds: proposal.UpdatedAtSeconds,
		UpdatedBy:        proposal.UpdatedBy,
		Depth:            rev.Depth(),
		IsLeaf:           true,
		IsWinner:         true,
	}

	return Result{
		DocID:     proposal.DocID,
		Inserts:   []VersionControlRecord{record},
		Snapshots: []Snapshot{{Rev: rev.String(), PayloadJSON: proposal.CanonicalPayload}},
		Current: CurrentChange{
			Op:               CurrentInsert,
			Rev:              rev.String(),
			PayloadJSON:      proposal.CanonicalPayload,
			UpdatedAtSeconds: proposal.UpdatedAtSeconds,
			UpdatedBy:        proposal.UpdatedBy,
		},
		NewRev:     rev.String(),
		WinningRev: rev.String(),
	}, nil
}

// ResolvePut decides the row actions for a non-forced put. The caller's
// revision must name the current winner, the document must be conflict-free,
// and the new revision extends the lineage by exactly one step.
func ResolvePut(proposal Proposal, ledger []VersionControlRecord) (Result, error) {
	if _, err := verifyLedger(proposal.DocID, ledger); err != nil {
		return Result{}, err
	}

	parent := findRecord(ledger, proposal.ParentRev)
	if parent == nil || !parent.IsLeaf || !parent.IsWinner {
		return Result{}, fmt.Errorf("%w: revision %s is not the current winner of document %q", ErrVersionConflict, proposal.ParentRev, proposal.DocID)
	}
	if len(liveLeaves(ledger)) > 1 {
		return Result{}, fmt.Errorf("%w: document %q has unresolved conflicts", ErrVersionConflict, proposal.DocID)
	}

	parentRev, err := revision.Parse(proposal.ParentRev)
	if err != nil {
		return Result{}, err
	}
	rev, err := revision.ForPayload(proposal.CanonicalPayload, &parentRev)
	if err != nil {
		return Result{}, err
	}
	if findRecord(ledger, rev.String()) != nil {
		return Result{}, fmt.Errorf("%w: revision %s already recorded for document %q", ErrVersionConflict, rev, proposal.DocID)
	}

	record := VersionControlRecord{
		DocID:            proposal.DocID,
		Rev:              rev.String(),
		UpdatedAtSeconds: proposal.UpdatedAtSeconds,
		UpdatedBy:        proposal.UpdatedBy,
		Depth:            rev.Depth(),
		Ancestry:         revision.ExtendAncestry(parent.Ancestry, parent.Hash()),
		IsLeaf:           true,
		IsWinner:         true,
	}

	return Result{
		DocID:   proposal.DocID,
		Inserts: []VersionControlRecord{record},
		Updates: []FlagUpdate{{
			Rev:          parent.Rev,
			ExpectLeaf:   true,
			ExpectWinner: true,
		}},
		Snapshots: []Snapshot{{Rev: rev.String(), PayloadJSON: proposal.CanonicalPayload}},
		Current: CurrentChange{
			Op:               CurrentReplace,
			Rev:              rev.String(),
			PayloadJSON:      proposal.CanonicalPayload,
			UpdatedAtSeconds: proposal.UpdatedAtSeconds,
			UpdatedBy:        proposal.UpdatedBy,
		},
		NewRev:     rev.String(),
		WinningRev: rev.String(),
	}, nil
}

// ResolveDelete decides the row actions for tombstoning one live leaf. The
// tombstone becomes a deleted, non-winning leaf; the winner is re-elected
// among the remaining live leaves, and the last live leaf's removal requests
// a cascade delete of dependent documents.
func ResolveDelete(request DeleteRequest, ledger []VersionControlRecord) (Result, error) {
	prevWinner, err := verifyLedger(request.DocID, ledger)
	if err != nil {
		return Result{}, err
	}

	target := findRecord(ledger, request.Rev)
	if target == nil || target.IsDeleted || target.IsStub {
		return Result{}, fmt.Errorf("%w: revision %s of document %q", ErrNotFound, request.Rev, request.DocID)
	}
	if !target.IsLeaf {
		return Result{}, fmt.Errorf("%w: revision %s of document %q", ErrNotALeaf, request.Rev, request.DocID)
	}

	tombstoneHash := revision.Tombstone(request.DocID, target.Rev, request.UpdatedAtSeconds, request.UpdatedBy)
	tombstoneRev, err := revision.New(target.Depth+1, tombstoneHash)
	if err != nil {
		return Result{}, err
	}
	if findRecord(ledger, tombstoneRev.String()) != nil {
		return Result{}, fmt.Errorf("%w: tombstone %s already recorded for document %q", ErrVersionConflict, tombstoneRev, request.DocID)
	}

	tombstone := VersionControlRecord{
		DocID:            request.DocID,
		Rev:              tombstoneRev.String(),
		UpdatedAtSeconds: request.UpdatedAtSeconds,
		UpdatedBy:        request.UpdatedBy,
		Depth:            tombstoneRev.Depth(),
		Ancestry:         revision.ExtendAncestry(target.Ancestry, target.Hash()),
		IsLeaf:           true,
		IsDeleted:        true,
	}

	updates := []FlagUpdate{{
		Rev:          target.Rev,
		ExpectLeaf:   true,
		ExpectWinner: target.IsWinner,
	}}

	remaining := excludeRev(liveLeaves(ledger), target.Rev)
	winnerRev, inConflict, rebalanced := rebalance(remaining, nil)
	updates = append(updates, rebalanced...)

	result := Result{
		DocID:      request.DocID,
		Inserts:    []VersionControlRecord{tombstone},
		Updates:    updates,
		NewRev:     tombstoneRev.String(),
		WinningRev: winnerRev,
	}
	result.Current = currentTransition(prevWinner, winnerRev, false, "", inConflict, request.UpdatedAtSeconds, request.UpdatedBy)
	if winnerRev == "" {
		result.CascadeDelete = true
	}
	return result, nil
}

// ResolveForcedPut decides the row actions for a replicated revision. The
// nearest existing chain ancestor is the attachment point; a leaf ancestor is
// demoted, unknown intermediate ancestors are inserted as stub rows, and the
// winner is re-elected deterministically over the resulting leaf set.
func ResolveForcedPut(proposal ForcedProposal, ledger []VersionControlRecord) (Result, error) {
	prevWinner, err := verifyLedger(proposal.DocID, ledger)
	if err != nil {
		return Result{}, err
	}

	if existing := findRecord(ledger, proposal.Rev.String()); existing != nil {
		if existing.IsStub && !proposal.Deleted {
			return fillStub(proposal, existing, prevWinner), nil
		}
		return Result{}, fmt.Errorf("%w: revision %s already exists for document %q", ErrVersionConflict, proposal.Rev, proposal.DocID)
	}

	attachment, attachIndex := findAttachment(proposal, ledger)

	fullChain := proposal.AncestorHashes
	if attachment != nil {
		fullChain = append([]string{}, proposal.AncestorHashes[:attachIndex+1]...)
		fullChain = append(fullChain, revision.ChainFromAncestry(attachment.Ancestry)...)
	}

	inserts := stubInserts(proposal, fullChain, attachIndex, attachment)

	record := VersionControlRecord{
		DocID:            proposal.DocID,
		Rev:              proposal.Rev.String(),
		UpdatedAtSeconds: proposal.UpdatedAtSeconds,
		UpdatedBy:        proposal.UpdatedBy,
		Depth:            proposal.Rev.Depth(),
		Ancestry:         revision.AncestryFromChain(fullChain),
		IsLeaf:           !proposal.Deleted,
		IsDeleted:        proposal.Deleted,
	}

	var updates []FlagUpdate
	remaining := liveLeaves(ledger)
	if attachment != nil && attachment.IsLeaf {
		updates = append(updates, FlagUpdate{
			Rev:          attachment.Rev,
			ExpectLeaf:   true,
			ExpectWinner: attachment.IsWinner,
		})
		remaining = excludeRev(remaining, attachment.Rev)
	}

	var inserted *VersionControlRecord
	if record.IsLeaf && !record.IsDeleted {
		inserted = &record
	}
	winnerRev, inConflict, rebalanced := rebalance(remaining, inserted)
	updates = append(updates, rebalanced...)

	if inserted != nil {
		record.IsConflict = inConflict
		record.IsWinner = record.Rev == winnerRev
	}
	inserts = append(inserts, record)

	result := Result{
		DocID:      proposal.DocID,
		Inserts:    inserts,
		Updates:    updates,
		NewRev:     record.Rev,
		WinningRev: winnerRev,
	}
	if !proposal.Deleted {
		result.Snapshots = []Snapshot{{Rev: record.Rev, PayloadJSON: proposal.CanonicalPayload}}
	}
	result.Current = currentTransition(prevWinner, winnerRev, winnerRev == record.Rev, proposal.CanonicalPayload, inConflict, proposal.UpdatedAtSeconds, proposal.UpdatedBy)
	if winnerRev == "" && prevWinner != nil {
		result.CascadeDelete = true
	}
	return result, nil
}

// fillStub attaches the late-arriving payload to a placeholder ledger row.
// Flags are untouched; only the stub marker clears and a snapshot lands.
func fillStub(proposal ForcedProposal, stub *VersionControlRecord, prevWinner *VersionControlRecord) Result {
	result := Result{
		DocID: proposal.DocID,
		Updates: []FlagUpdate{{
			Rev:          stub.Rev,
			ExpectLeaf:   stub.IsLeaf,
			ExpectWinner: stub.IsWinner,
			Leaf:         stub.IsLeaf,
			Conflict:     stub.IsConflict,
			Winner:       stub.IsWinner,
			FillStub:     true,
		}},
		Snapshots: []Snapshot{{Rev: stub.Rev, PayloadJSON: proposal.CanonicalPayload}},
	}
	if prevWinner != nil {
		result.WinningRev = prevWinner.Rev
	}
	return result
}

// findAttachment walks the supplied ancestor chain newest-first and returns
// the first ancestor the ledger already holds.
func findAttachment(proposal ForcedProposal, ledger []VersionControlRecord) (*VersionControlRecord, int) {
	for index, hash := range proposal.AncestorHashes {
		depth := proposal.Rev.Depth() - 1 - index
		if depth < 1 {
			break
		}
		if record := findRecord(ledger, fmt.Sprintf("%d-%s", depth, hash)); record != nil {
			return record, index
		}
	}
	return nil, -1
}

// stubInserts builds placeholder rows, oldest-first, for chain ancestors the
// ledger does not hold yet.
func stubInserts(proposal ForcedProposal, fullChain []string, attachIndex int, attachment *VersionControlRecord) []VersionControlRecord {
	upper := len(proposal.AncestorHashes)
	if attachment != nil {
		upper = attachIndex
	}
	var stubs []VersionControlRecord
	for index := upper - 1; index >= 0; index-- {
		depth := proposal.Rev.Depth() - 1 - index
		if depth < 1 {
			continue
		}
		stubs = append(stubs, VersionControlRecord{
			DocID:            proposal.DocID,
			Rev:              fmt.Sprintf("%d-%s", depth, fullChain[index]),
			UpdatedAtSeconds: proposal.UpdatedAtSeconds,
			UpdatedBy:        proposal.UpdatedBy,
			Depth:            depth,
			Ancestry:         revision.AncestryFromChain(fullChain[index+1:]),
			IsStub:           true,
		})
	}
	return stubs
}

// rebalance computes the deterministic winner and conflict flags over the
// remaining existing live leaves plus an optionally inserted one, returning
// flag updates for every existing leaf whose flags change.
func rebalance(remaining []VersionControlRecord, inserted *VersionControlRecord) (string, bool, []FlagUpdate) {
	electorate := make([]VersionControlRecord, 0, len(remaining)+1)
	electorate = append(electorate, remaining...)
	if inserted != nil {
		electorate = append(electorate, *inserted)
	}

	winner := ElectWinner(electorate)
	winnerRev := ""
	if winner != nil {
		winnerRev = winner.Rev
	}
	inConflict := len(electorate) > 1

	var updates []FlagUpdate
	for _, leaf := range remaining {
		nextConflict := inConflict
		nextWinner := leaf.Rev == winnerRev
		if leaf.IsConflict == nextConflict && leaf.IsWinner == nextWinner {
			continue
		}
		updates = append(updates, FlagUpdate{
			Rev:          leaf.Rev,
			ExpectLeaf:   true,
			ExpectWinner: leaf.IsWinner,
			Leaf:         true,
			Conflict:     nextConflict,
			Winner:       nextWinner,
		})
	}
	return winnerRev, inConflict, updates
}

// currentTransition derives the current-row action from the winner before and
// after the operation. An empty payload on a replace or insert directs the
// applier to read the winning payload back from the history table.
func currentTransition(prevWinner *VersionControlRecord, winnerRev string, winnerIsNew bool, newPayload string, inConflict bool, updatedAtSeconds int64, updatedBy string) CurrentChange {
	if winnerRev == "" {
		if prevWinner != nil {
			return CurrentChange{Op: CurrentDelete}
		}
		return CurrentChange{Op: CurrentUnchanged}
	}

	change := CurrentChange{
		Rev:              winnerRev,
		InConflict:       inConflict,
		UpdatedAtSeconds: updatedAtSeconds,
		UpdatedBy:        updatedBy,
	}
	if winnerIsNew {
		change.PayloadJSON = newPayload
	}

	switch {
	case prevWinner == nil:
		change.Op = CurrentInsert
	case prevWinner.Rev != winnerRev:
		change.Op = CurrentReplace
	case prevWinner.IsConflict != inConflict:
		change.Op = CurrentReplace
	default:
		change.Op = CurrentUnchanged
	}
	return change
}

// excludeRev filters one revision out of a leaf slice.
func excludeRev(leaves []VersionControlRecord, rev string) []VersionControlRecord {
	var kept []VersionControlRecord
	for _, leaf := range leaves {
		if leaf.Rev != rev {
			kept = append(kept, leaf)
		}
	}
	return kept
}
