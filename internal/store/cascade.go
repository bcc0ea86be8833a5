package store

import (
	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cascadeDependents removes every dependent document of a fully deleted
// parent, inside the parent's transaction. Versioned dependents are
// tombstoned leaf by leaf so peers replicate the deletions; immutable
// dependents have no version history worth keeping and are purged outright.
// Cascades recurse through the dependents' own dependents.
func (s *Store) cascadeDependents(tx *gorm.DB, parent schema.Descriptor, parentDocID, actor, errOp string) error {
	for _, dependent := range parent.Dependents {
		child, err := s.registry.Entity(dependent.Entity)
		if err != nil {
			return newServiceError(errOp, "dependent_entity_unknown", err)
		}
		docIDs, err := dependentDocIDs(tx, child.Name, dependent.ForeignKeyField, parentDocID)
		if err != nil {
			return newServiceError(errOp, "dependent_query_failed", err)
		}
		for _, docID := range docIDs {
			if dependent.Immutable {
				if err := purgeDocument(tx, child.Name, docID); err != nil {
					return newServiceError(errOp, "dependent_purge_failed", err)
				}
				continue
			}
			if err := s.tombstoneDocument(tx, child, docID, actor, errOp); err != nil {
				return err
			}
			if err := tx.Table(tableChangeLog(child.Name)).
				Where("doc_id = ?", docID).
				Delete(&mvcc.ChangeLogRow{}).Error; err != nil {
				return newServiceError(errOp, "dependent_changelog_purge_failed", err)
			}
		}
	}
	return nil
}

// dependentDocIDs finds live dependents whose payload references the parent
// through the declared foreign-key field.
func dependentDocIDs(tx *gorm.DB, entity, foreignKeyField, parentDocID string) ([]string, error) {
	var docIDs []string
	err := tx.Table(tableCurrent(entity)).
		Where("json_extract(payload_json, ?) = ?", "$."+foreignKeyField, parentDocID).
		Pluck("doc_id", &docIDs).Error
	return docIDs, err
}

// purgeDocument erases every trace of an immutable dependent.
func purgeDocument(tx *gorm.DB, entity, docID string) error {
	if err := tx.Table(tableCurrent(entity)).Where("doc_id = ?", docID).Delete(&mvcc.CurrentRow{}).Error; err != nil {
		return err
	}
	if err := tx.Table(tableHistory(entity)).Where("doc_id = ?", docID).Delete(&mvcc.HistoryRow{}).Error; err != nil {
		return err
	}
	if err := tx.Table(tableVersionControl(entity)).Where("doc_id = ?", docID).Delete(&mvcc.VersionControlRecord{}).Error; err != nil {
		return err
	}
	return tx.Table(tableChangeLog(entity)).Where("doc_id = ?", docID).Delete(&mvcc.ChangeLogRow{}).Error
}

// tombstoneDocument deletes every live leaf of one dependent document.
// Each pass re-reads the ledger because the previous tombstone may have
// promoted a sibling.
func (s *Store) tombstoneDocument(tx *gorm.DB, descriptor schema.Descriptor, docID, actor, errOp string) error {
	nowSeconds := s.clock().UTC().Unix()
	for {
		var ledger []mvcc.VersionControlRecord
		if err := tx.Table(tableVersionControl(descriptor.Name)).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("doc_id = ?", docID).
			Order("seq ASC").
			Find(&ledger).Error; err != nil {
			return newServiceError(errOp, "dependent_ledger_read_failed", err)
		}

		var target *mvcc.VersionControlRecord
		for position := range ledger {
			if ledger[position].IsLeaf && !ledger[position].IsDeleted {
				target = &ledger[position]
				break
			}
		}
		if target == nil {
			return nil
		}

		request := mvcc.DeleteRequest{
			DocID:            docID,
			Rev:              target.Rev,
			UpdatedAtSeconds: nowSeconds,
			UpdatedBy:        actor,
		}
		result, err := mvcc.ResolveDelete(request, ledger)
		if err != nil {
			return err
		}
		if err := s.applyResult(tx, descriptor, result, changeOpDelete, actor, errOp); err != nil {
			return err
		}
	}
}
