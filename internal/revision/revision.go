package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRevision indicates that a revision identifier is not "<depth>-<hash>".
	ErrMalformedRevision = errors.New("revision: malformed revision")
	// ErrMalformedPayload indicates that a payload cannot be hashed into a revision.
	ErrMalformedPayload = errors.New("revision: malformed payload")
)

// Revision identifies one node in a document's revision tree.
type Revision struct {
	depth int
	hash  string
}

// New validates the parts and returns a Revision.
func New(depth int, hash string) (Revision, error) {
	if depth < 1 {
		return Revision{}, fmt.Errorf("%w: depth %d", ErrMalformedRevision, depth)
	}
	if strings.TrimSpace(hash) == "" {
		return Revision{}, fmt.Errorf("%w: empty hash", ErrMalformedRevision)
	}
	return Revision{depth: depth, hash: hash}, nil
}

// Parse decodes a "<depth>-<hash>" revision identifier.
func Parse(raw string) (Revision, error) {
	separator := strings.Index(raw, "-")
	if separator <= 0 || separator == len(raw)-1 {
		return Revision{}, fmt.Errorf("%w: %q", ErrMalformedRevision, raw)
	}
	depth, err := strconv.Atoi(raw[:separator])
	if err != nil || depth < 1 {
		return Revision{}, fmt.Errorf("%w: %q", ErrMalformedRevision, raw)
	}
	return Revision{depth: depth, hash: raw[separator+1:]}, nil
}

// Depth returns the distance from the revision tree root, starting at 1.
func (r Revision) Depth() int {
	return r.depth
}

// Hash returns the content hash suffix of the identifier.
func (r Revision) Hash() string {
	return r.hash
}

// String renders the identifier as "<depth>-<hash>".
func (r Revision) String() string {
	return fmt.Sprintf("%d-%s", r.depth, r.hash)
}

// HashPayload computes the hex content hash of a canonical payload.
func HashPayload(canonicalPayload string) (string, error) {
	if strings.TrimSpace(canonicalPayload) == "" {
		return "", fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	sum := sha256.Sum256([]byte(canonicalPayload))
	return hex.EncodeToString(sum[:]), nil
}

// ForPayload derives the next revision for a canonical payload. A nil parent
// yields a depth-1 root; otherwise the depth extends the parent by one.
func ForPayload(canonicalPayload string, parent *Revision) (Revision, error) {
	hash, err := HashPayload(canonicalPayload)
	if err != nil {
		return Revision{}, err
	}
	depth := 1
	if parent != nil {
		depth = parent.depth + 1
	}
	return Revision{depth: depth, hash: hash}, nil
}

// Tombstone derives the synthetic content hash for a deletion marker. The
// target revision participates in the hash so tombstones of distinct siblings
// stay distinct even under the same timestamp and actor.
func Tombstone(docID, targetRev string, updatedAtSeconds int64, updatedBy string) string {
	canonical := fmt.Sprintf("%s\x00%s\x00%d\x00%s\x00deleted=true", docID, targetRev, updatedAtSeconds, updatedBy)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
