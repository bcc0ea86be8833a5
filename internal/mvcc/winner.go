package mvcc

import (
	"fmt"
	"strings"
)

// ElectWinner deterministically elects the authoritative revision among the
// provided live leaves: greatest depth wins, ties broken by lexicographically
// greater content hash. The result depends only on the set, never on arrival
// order, so every replica elects the same winner independently.
func ElectWinner(liveLeaves []VersionControlRecord) *VersionControlRecord {
	var winner *VersionControlRecord
	for position := range liveLeaves {
		candidate := &liveLeaves[position]
		if winner == nil {
			winner = candidate
			continue
		}
		if candidate.Depth > winner.Depth {
			winner = candidate
			continue
		}
		if candidate.Depth == winner.Depth && strings.Compare(candidate.Hash(), winner.Hash()) > 0 {
			winner = candidate
		}
	}
	return winner
}

// liveLeaves filters the ledger snapshot down to non-deleted leaf rows.
func liveLeaves(ledger []VersionControlRecord) []VersionControlRecord {
	var leaves []VersionControlRecord
	for _, record := range ledger {
		if record.IsLeaf && !record.IsDeleted {
			leaves = append(leaves, record)
		}
	}
	return leaves
}

// verifyLedger checks the invariants of a ledger snapshot before any decision
// is computed and returns the current winner, if any. Violations surface as
// ErrDataIntegrity and are never silently repaired.
func verifyLedger(docID string, ledger []VersionControlRecord) (*VersionControlRecord, error) {
	var winner *VersionControlRecord
	conflictSeen := false
	for position := range ledger {
		record := &ledger[position]
		if record.DocID != docID {
			return nil, fmt.Errorf("%w: ledger row %s belongs to %q, not %q", ErrDataIntegrity, record.Rev, record.DocID, docID)
		}
		if record.IsConflict && record.IsLeaf {
			conflictSeen = true
		}
		if !record.IsWinner {
			continue
		}
		if winner != nil {
			return nil, fmt.Errorf("%w: document %q has winners %s and %s", ErrDataIntegrity, docID, winner.Rev, record.Rev)
		}
		if !record.IsLeaf || record.IsDeleted {
			return nil, fmt.Errorf("%w: winner %s of document %q is not a live leaf", ErrDataIntegrity, record.Rev, docID)
		}
		winner = record
	}
	if conflictSeen && winner == nil {
		return nil, fmt.Errorf("%w: document %q is marked conflicting but has no winner", ErrDataIntegrity, docID)
	}
	return winner, nil
}

// findRecord returns the ledger row carrying the exact revision identifier.
func findRecord(ledger []VersionControlRecord, rev string) *VersionControlRecord {
	for position := range ledger {
		if ledger[position].Rev == rev {
			return &ledger[position]
		}
	}
	return nil
}
