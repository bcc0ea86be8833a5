package revision

import (
	"fmt"
	"strings"
)

const ancestrySeparator = "."

// AncestryFromChain encodes ancestor hashes supplied newest-first into the
// stored ancestry form: oldest-first, dot-joined.
func AncestryFromChain(newestFirst []string) string {
	oldestFirst := make([]string, 0, len(newestFirst))
	for position := len(newestFirst) - 1; position >= 0; position-- {
		oldestFirst = append(oldestFirst, newestFirst[position])
	}
	return strings.Join(oldestFirst, ancestrySeparator)
}

// ChainFromAncestry splits a stored ancestry into ancestor hashes newest-first.
func ChainFromAncestry(ancestry string) []string {
	if ancestry == "" {
		return nil
	}
	oldestFirst := strings.Split(ancestry, ancestrySeparator)
	newestFirst := make([]string, 0, len(oldestFirst))
	for position := len(oldestFirst) - 1; position >= 0; position-- {
		newestFirst = append(newestFirst, oldestFirst[position])
	}
	return newestFirst
}

// ExtendAncestry appends a parent hash onto the parent's own stored ancestry,
// producing the child's ancestry.
func ExtendAncestry(parentAncestry, parentHash string) string {
	if parentAncestry == "" {
		return parentHash
	}
	return parentAncestry + ancestrySeparator + parentHash
}

// AncestorRevs reconstructs synthetic ancestor revisions for a node at the
// given depth, newest-first, decrementing depth per position.
func AncestorRevs(ancestry string, depth int) ([]Revision, error) {
	chain := ChainFromAncestry(ancestry)
	if depth-len(chain) < 1 {
		return nil, fmt.Errorf("%w: ancestry of %d hashes cannot sit below depth %d", ErrMalformedRevision, len(chain), depth)
	}
	ancestors := make([]Revision, 0, len(chain))
	for position, hash := range chain {
		ancestor, err := New(depth-1-position, hash)
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, ancestor)
	}
	return ancestors, nil
}

// FromDocRevisions decodes a replication-supplied {start, ids} chain into the
// revision it names plus its ancestor hashes newest-first. The ids list is
// newest-first and includes the revision's own hash at position zero.
func FromDocRevisions(start int, ids []string) (Revision, []string, error) {
	if len(ids) == 0 {
		return Revision{}, nil, fmt.Errorf("%w: empty revision chain", ErrMalformedRevision)
	}
	if start < len(ids) {
		return Revision{}, nil, fmt.Errorf("%w: start %d shorter than chain of %d", ErrMalformedRevision, start, len(ids))
	}
	rev, err := New(start, ids[0])
	if err != nil {
		return Revision{}, nil, err
	}
	ancestors := make([]string, len(ids)-1)
	copy(ancestors, ids[1:])
	return rev, ancestors, nil
}

// ToDocRevisions encodes a revision and its stored ancestry into the
// replication {start, ids} chain shape.
func ToDocRevisions(rev Revision, ancestry string) (int, []string) {
	ids := append([]string{rev.Hash()}, ChainFromAncestry(ancestry)...)
	return rev.Depth(), ids
}
