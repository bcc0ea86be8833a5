package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/revision"
	"github.com/seadriftlabs/seadrift/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	changeOpCreate    = "create"
	changeOpUpdate    = "update"
	changeOpDelete    = "delete"
	changeOpReplicate = "replicate"
)

// ApplyOutcome summarizes one committed document operation.
type ApplyOutcome struct {
	DocID      string
	Rev        string
	WinningRev string
	InConflict bool
}

// Post creates a brand-new document at revision depth 1.
func (s *Store) Post(ctx context.Context, entity, docID string, payload map[string]any, actor string) (ApplyOutcome, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return ApplyOutcome{}, err
	}
	record, err := descriptor.ValidateRecord(payload, false)
	if err != nil {
		return ApplyOutcome{}, err
	}
	canonical, err := record.CanonicalJSON()
	if err != nil {
		s.logError(opPost, "canonicalize_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
		return ApplyOutcome{}, newServiceError(opPost, "canonicalize_failed", err)
	}

	proposal := mvcc.Proposal{
		DocID:            docID,
		CanonicalPayload: canonical,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
		UpdatedBy:        actor,
	}
	result, err := s.applyOperation(ctx, descriptor, docID, opPost, changeOpCreate, actor, func(ledger []mvcc.VersionControlRecord) (mvcc.Result, error) {
		return mvcc.ResolvePost(proposal, ledger)
	})
	if err != nil {
		return ApplyOutcome{}, err
	}
	return outcomeFrom(result), nil
}

// Put extends the current winner by one revision. The caller's revision must
// name the winner exactly and the document must be conflict-free.
func (s *Store) Put(ctx context.Context, entity, docID, rev string, payload map[string]any, actor string) (ApplyOutcome, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return ApplyOutcome{}, err
	}
	if _, err := revision.Parse(rev); err != nil {
		return ApplyOutcome{}, err
	}
	record, err := descriptor.ValidateRecord(payload, false)
	if err != nil {
		return ApplyOutcome{}, err
	}
	canonical, err := record.CanonicalJSON()
	if err != nil {
		s.logError(opPut, "canonicalize_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
		return ApplyOutcome{}, newServiceError(opPut, "canonicalize_failed", err)
	}

	proposal := mvcc.Proposal{
		DocID:            docID,
		ParentRev:        rev,
		CanonicalPayload: canonical,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
		UpdatedBy:        actor,
	}
	result, err := s.applyOperation(ctx, descriptor, docID, opPut, changeOpUpdate, actor, func(ledger []mvcc.VersionControlRecord) (mvcc.Result, error) {
		return mvcc.ResolvePut(proposal, ledger)
	})
	if err != nil {
		return ApplyOutcome{}, err
	}
	return outcomeFrom(result), nil
}

// Delete tombstones one live leaf revision and re-elects the winner among
// the remaining live leaves.
func (s *Store) Delete(ctx context.Context, entity, docID, rev string, actor string) (ApplyOutcome, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return ApplyOutcome{}, err
	}
	if _, err := revision.Parse(rev); err != nil {
		return ApplyOutcome{}, err
	}

	request := mvcc.DeleteRequest{
		DocID:            docID,
		Rev:              rev,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
		UpdatedBy:        actor,
	}
	result, err := s.applyOperation(ctx, descriptor, docID, opDelete, changeOpDelete, actor, func(ledger []mvcc.VersionControlRecord) (mvcc.Result, error) {
		return mvcc.ResolveDelete(request, ledger)
	})
	if err != nil {
		return ApplyOutcome{}, err
	}
	return outcomeFrom(result), nil
}

// ForcePut ingests an externally numbered revision, as supplied by a
// replicating peer. Branches and skipped ancestors are admitted; the winner
// is re-elected deterministically.
func (s *Store) ForcePut(ctx context.Context, entity, docID string, rev revision.Revision, ancestors []string, payload map[string]any, deleted bool, actor string) (ApplyOutcome, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return ApplyOutcome{}, err
	}

	canonical := ""
	if !deleted {
		record, err := descriptor.ValidateRecord(payload, false)
		if err != nil {
			return ApplyOutcome{}, err
		}
		canonical, err = record.CanonicalJSON()
		if err != nil {
			s.logError(opForcePut, "canonicalize_failed", err, zap.String(fieldEntity, entity), zap.String(fieldDocID, docID))
			return ApplyOutcome{}, newServiceError(opForcePut, "canonicalize_failed", err)
		}
	}

	proposal := mvcc.ForcedProposal{
		DocID:            docID,
		Rev:              rev,
		AncestorHashes:   ancestors,
		CanonicalPayload: canonical,
		Deleted:          deleted,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
		UpdatedBy:        actor,
	}
	result, err := s.applyOperation(ctx, descriptor, docID, opForcePut, changeOpReplicate, actor, func(ledger []mvcc.VersionControlRecord) (mvcc.Result, error) {
		return mvcc.ResolveForcedPut(proposal, ledger)
	})
	if err != nil {
		return ApplyOutcome{}, err
	}
	outcome := outcomeFrom(result)
	if outcome.Rev == "" {
		outcome.Rev = rev.String()
	}
	return outcome, nil
}

func outcomeFrom(result mvcc.Result) ApplyOutcome {
	return ApplyOutcome{
		DocID:      result.DocID,
		Rev:        result.NewRev,
		WinningRev: result.WinningRev,
		InConflict: result.Current.InConflict,
	}
}

// applyOperation runs one resolve-and-apply cycle inside a single
// transaction. The ledger snapshot is read under a row lock, the resolver's
// decision is re-validated row by row while writing, and any failure rolls
// the whole operation back with the original error.
func (s *Store) applyOperation(ctx context.Context, descriptor schema.Descriptor, docID, errOp, changeOp, actor string, resolve func([]mvcc.VersionControlRecord) (mvcc.Result, error)) (mvcc.Result, error) {
	var result mvcc.Result
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ledger []mvcc.VersionControlRecord
		if err := tx.Table(tableVersionControl(descriptor.Name)).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("doc_id = ?", docID).
			Order("seq ASC").
			Find(&ledger).Error; err != nil {
			s.logError(errOp, "ledger_read_failed", err, zap.String(fieldEntity, descriptor.Name), zap.String(fieldDocID, docID))
			return newServiceError(errOp, "ledger_read_failed", err)
		}

		resolved, err := resolve(ledger)
		if err != nil {
			if errors.Is(err, mvcc.ErrDataIntegrity) {
				s.logError(errOp, "data_integrity_violation", err, zap.String(fieldEntity, descriptor.Name), zap.String(fieldDocID, docID))
			}
			return err
		}

		if err := s.applyResult(tx, descriptor, resolved, changeOp, actor, errOp); err != nil {
			return err
		}
		result = resolved
		return nil
	})
	if txErr != nil {
		return mvcc.Result{}, txErr
	}
	return result, nil
}

func (s *Store) applyResult(tx *gorm.DB, descriptor schema.Descriptor, result mvcc.Result, changeOp, actor, errOp string) error {
	vcTable := tableVersionControl(descriptor.Name)

	previous, err := s.readCurrent(tx, descriptor.Name, result.DocID)
	if err != nil {
		return newServiceError(errOp, "current_read_failed", err)
	}

	for _, update := range result.Updates {
		values := map[string]any{}
		if update.FillStub {
			values["is_stub"] = false
		} else {
			values["is_leaf"] = update.Leaf
			values["is_conflict"] = update.Conflict
			values["is_winner"] = update.Winner
		}
		outcome := tx.Table(vcTable).
			Where("doc_id = ? AND rev = ? AND is_leaf = ? AND is_winner = ?",
				result.DocID, update.Rev, update.ExpectLeaf, update.ExpectWinner).
			Updates(values)
		if outcome.Error != nil {
			return newServiceError(errOp, "flag_update_failed", outcome.Error)
		}
		if outcome.RowsAffected != 1 {
			return fmt.Errorf("%w: revision %s of document %q changed under the transaction", mvcc.ErrVersionConflict, update.Rev, result.DocID)
		}
	}

	for position := range result.Inserts {
		record := result.Inserts[position]
		record.Seq = 0
		if err := tx.Table(vcTable).Create(&record).Error; err != nil {
			return newServiceError(errOp, "ledger_insert_failed", err)
		}
	}

	for _, snapshot := range result.Snapshots {
		row := mvcc.HistoryRow{DocID: result.DocID, Rev: snapshot.Rev, PayloadJSON: snapshot.PayloadJSON}
		if err := tx.Table(tableHistory(descriptor.Name)).Create(&row).Error; err != nil {
			return newServiceError(errOp, "snapshot_insert_failed", err)
		}
	}

	next, err := s.applyCurrentChange(tx, descriptor, result, previous, errOp)
	if err != nil {
		return err
	}

	if err := s.appendChangeLog(tx, descriptor, result, changeOp, actor, previous, next, errOp); err != nil {
		return err
	}

	if result.CascadeDelete {
		if err := s.cascadeDependents(tx, descriptor, result.DocID, actor, errOp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyCurrentChange(tx *gorm.DB, descriptor schema.Descriptor, result mvcc.Result, previous *mvcc.CurrentRow, errOp string) (*mvcc.CurrentRow, error) {
	change := result.Current
	table := tableCurrent(descriptor.Name)

	switch change.Op {
	case mvcc.CurrentUnchanged:
		return previous, nil
	case mvcc.CurrentDelete:
		if err := tx.Table(table).Where("doc_id = ?", result.DocID).Delete(&mvcc.CurrentRow{}).Error; err != nil {
			return nil, newServiceError(errOp, "current_delete_failed", err)
		}
		return nil, nil
	}

	payload := change.PayloadJSON
	if payload == "" {
		// Winner promoted from an existing sibling: its payload lives in
		// the history table.
		var snapshot mvcc.HistoryRow
		err := tx.Table(tableHistory(descriptor.Name)).
			Where("doc_id = ? AND rev = ?", result.DocID, change.Rev).
			Take(&snapshot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: winner %s of document %q has no payload snapshot", mvcc.ErrDataIntegrity, change.Rev, result.DocID)
		}
		if err != nil {
			return nil, newServiceError(errOp, "winner_snapshot_read_failed", err)
		}
		payload = snapshot.PayloadJSON
	}

	row := mvcc.CurrentRow{
		DocID:            result.DocID,
		Rev:              change.Rev,
		PayloadJSON:      payload,
		InConflict:       change.InConflict,
		UpdatedAtSeconds: change.UpdatedAtSeconds,
		UpdatedBy:        change.UpdatedBy,
	}

	switch change.Op {
	case mvcc.CurrentInsert:
		if err := tx.Table(table).Create(&row).Error; err != nil {
			return nil, newServiceError(errOp, "current_insert_failed", err)
		}
	case mvcc.CurrentReplace:
		outcome := tx.Table(table).Where("doc_id = ?", result.DocID).Updates(map[string]any{
			"rev":          row.Rev,
			"payload_json": row.PayloadJSON,
			"in_conflict":  row.InConflict,
			"updated_at_s": row.UpdatedAtSeconds,
			"updated_by":   row.UpdatedBy,
		})
		if outcome.Error != nil {
			return nil, newServiceError(errOp, "current_replace_failed", outcome.Error)
		}
		if outcome.RowsAffected != 1 {
			return nil, fmt.Errorf("%w: current row of document %q vanished under the transaction", mvcc.ErrVersionConflict, result.DocID)
		}
	}
	return &row, nil
}

func (s *Store) appendChangeLog(tx *gorm.DB, descriptor schema.Descriptor, result mvcc.Result, changeOp, actor string, previous, next *mvcc.CurrentRow, errOp string) error {
	if descriptor.ChangeLog == nil || result.Current.Op == mvcc.CurrentUnchanged {
		return nil
	}

	previousRecord, err := parseCurrentPayload(descriptor, previous)
	if err != nil {
		return newServiceError(errOp, "changelog_decode_failed", err)
	}
	nextRecord, err := parseCurrentPayload(descriptor, next)
	if err != nil {
		return newServiceError(errOp, "changelog_decode_failed", err)
	}
	if !descriptor.ChangeLog.Matches(previousRecord, nextRecord) {
		return nil
	}

	changeID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(errOp, "id_generation_failed", err)
	}

	row := mvcc.ChangeLogRow{
		ChangeID:         changeID,
		DocID:            result.DocID,
		Rev:              result.NewRev,
		Operation:        changeOp,
		PayloadJSON:      "{}",
		AppliedAtSeconds: s.clock().UTC().Unix(),
		Actor:            actor,
	}
	if next != nil {
		row.Rev = next.Rev
		row.PayloadJSON = next.PayloadJSON
	}
	if err := tx.Table(tableChangeLog(descriptor.Name)).Create(&row).Error; err != nil {
		return newServiceError(errOp, "changelog_insert_failed", err)
	}
	return nil
}

func parseCurrentPayload(descriptor schema.Descriptor, row *mvcc.CurrentRow) (*schema.Record, error) {
	if row == nil {
		return nil, nil
	}
	record, err := descriptor.ParseRecordJSON(row.PayloadJSON)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) readCurrent(tx *gorm.DB, entity, docID string) (*mvcc.CurrentRow, error) {
	var row mvcc.CurrentRow
	err := tx.Table(tableCurrent(entity)).Where("doc_id = ?", docID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
