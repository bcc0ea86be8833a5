package store

import (
	"context"
	"errors"

	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/revision"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RevisionDocument is one historical revision resolved for an open-revs
// fetch. Missing marks revisions the ledger cannot serve: never recorded,
// or recorded as a payload-less stub.
type RevisionDocument struct {
	Rev         string
	Deleted     bool
	PayloadJSON string
	Start       int
	IDs         []string
	Missing     bool
}

// PresentRevs reports which of the wanted revisions the ledger actually
// holds with payload. Stub rows do not count as present; the peer still
// owes us their payloads.
func (s *Store) PresentRevs(ctx context.Context, entity, docID string, wanted []string) (map[string]bool, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return nil, err
	}
	if len(wanted) == 0 {
		return map[string]bool{}, nil
	}

	var revs []string
	if err := s.db.WithContext(ctx).Table(tableVersionControl(descriptor.Name)).
		Where("doc_id = ? AND is_stub = ? AND rev IN ?", docID, false, wanted).
		Pluck("rev", &revs).Error; err != nil {
		s.logError(opPresentRevs, "ledger_read_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
		return nil, newServiceError(opPresentRevs, "ledger_read_failed", err)
	}

	present := make(map[string]bool, len(revs))
	for _, rev := range revs {
		present[rev] = true
	}
	return present, nil
}

// WinningRev returns the document's current winning revision, or an empty
// string when the document has no live leaf.
func (s *Store) WinningRev(ctx context.Context, entity, docID string) (string, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return "", err
	}

	var row mvcc.CurrentRow
	err = s.db.WithContext(ctx).Table(tableCurrent(descriptor.Name)).
		Where("doc_id = ?", docID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		s.logError(opDocumentAtRev, "current_read_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
		return "", newServiceError(opDocumentAtRev, "current_read_failed", err)
	}
	return row.Rev, nil
}

// DocumentAtRev resolves one requested revision of a document. The returned
// document carries the synthetic ancestry block reconstructed from the
// ledger row; deleted revisions come back without a payload.
func (s *Store) DocumentAtRev(ctx context.Context, entity, docID, rev string) (RevisionDocument, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return RevisionDocument{}, err
	}
	if _, err := revision.Parse(rev); err != nil {
		return RevisionDocument{}, err
	}

	var record mvcc.VersionControlRecord
	err = s.db.WithContext(ctx).Table(tableVersionControl(descriptor.Name)).
		Where("doc_id = ? AND rev = ?", docID, rev).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RevisionDocument{Rev: rev, Missing: true}, nil
	}
	if err != nil {
		s.logError(opDocumentAtRev, "ledger_read_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
		return RevisionDocument{}, newServiceError(opDocumentAtRev, "ledger_read_failed", err)
	}
	if record.IsStub {
		return RevisionDocument{Rev: rev, Missing: true}, nil
	}

	parsed, err := revision.Parse(record.Rev)
	if err != nil {
		return RevisionDocument{}, newServiceError(opDocumentAtRev, "ledger_rev_malformed", err)
	}
	start, ids := revision.ToDocRevisions(parsed, record.Ancestry)

	document := RevisionDocument{
		Rev:     record.Rev,
		Deleted: record.IsDeleted,
		Start:   start,
		IDs:     ids,
	}
	if record.IsDeleted {
		return document, nil
	}

	var snapshot mvcc.HistoryRow
	err = s.db.WithContext(ctx).Table(tableHistory(descriptor.Name)).
		Where("doc_id = ? AND rev = ?", docID, rev).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RevisionDocument{Rev: rev, Missing: true}, nil
	}
	if err != nil {
		s.logError(opDocumentAtRev, "snapshot_read_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
		return RevisionDocument{}, newServiceError(opDocumentAtRev, "snapshot_read_failed", err)
	}
	document.PayloadJSON = snapshot.PayloadJSON
	return document, nil
}
