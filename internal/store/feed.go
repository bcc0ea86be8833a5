package store

import (
	"context"

	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"go.uber.org/zap"
)

// feedBatchSize bounds each ledger read while walking toward the snapshot
// boundary.
const feedBatchSize = 500

// Change is one emitted changes-feed row: a leaf revision of a document.
type Change struct {
	DocID   string
	Seq     int64
	Rev     string
	Deleted bool
}

// ChangesPage is one page of the changes feed. Pending counts the leaf rows
// above the page's last sequence that existed when the page began.
type ChangesPage struct {
	Results []Change
	LastSeq int64
	Pending int64
}

// EntityInfo summarizes one entity's feed position for replication peers.
type EntityInfo struct {
	UpdateSeq                int64
	InstanceStartedAtSeconds int64
}

type feedSummary struct {
	RecordCount int64 `gorm:"column:record_count"`
	MaxSeq      int64 `gorm:"column:max_seq"`
}

// Changes reads one page of leaf ledger rows above since, in sequence order.
// A summary read pins the snapshot boundary first so rows appended while
// paging never leak into the page or the pending count. A non-positive limit
// reads everything up to the boundary.
func (s *Store) Changes(ctx context.Context, entity string, since int64, limit int) (ChangesPage, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return ChangesPage{}, err
	}
	table := tableVersionControl(descriptor.Name)

	var summary feedSummary
	if err := s.db.WithContext(ctx).Table(table).
		Select("COUNT(*) AS record_count, COALESCE(MAX(seq), 0) AS max_seq").
		Where("is_leaf = ? AND seq > ?", true, since).
		Take(&summary).Error; err != nil {
		s.logError(opChanges, "summary_read_failed", err, zap.String(fieldEntity, entity))
		return ChangesPage{}, newServiceError(opChanges, "summary_read_failed", err)
	}

	page := ChangesPage{LastSeq: since, Pending: summary.RecordCount}
	if summary.RecordCount == 0 {
		return page, nil
	}

	remaining := summary.RecordCount
	if limit > 0 && int64(limit) < remaining {
		remaining = int64(limit)
	}
	cursor := since
	for remaining > 0 {
		batch := feedBatchSize
		if remaining < int64(batch) {
			batch = int(remaining)
		}
		var rows []mvcc.VersionControlRecord
		if err := s.db.WithContext(ctx).Table(table).
			Where("is_leaf = ? AND seq > ? AND seq <= ?", true, cursor, summary.MaxSeq).
			Order("seq ASC").
			Limit(batch).
			Find(&rows).Error; err != nil {
			s.logError(opChanges, "page_read_failed", err, zap.String(fieldEntity, entity))
			return ChangesPage{}, newServiceError(opChanges, "page_read_failed", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			page.Results = append(page.Results, Change{
				DocID:   row.DocID,
				Seq:     row.Seq,
				Rev:     row.Rev,
				Deleted: row.IsDeleted,
			})
		}
		cursor = rows[len(rows)-1].Seq
		remaining -= int64(len(rows))
	}

	if len(page.Results) > 0 {
		page.LastSeq = page.Results[len(page.Results)-1].Seq
	}
	page.Pending = summary.RecordCount - int64(len(page.Results))
	if page.Pending < 0 {
		page.Pending = 0
	}
	return page, nil
}

// Info reports the entity's highest assigned sequence and when this store
// instance came up.
func (s *Store) Info(ctx context.Context, entity string) (EntityInfo, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return EntityInfo{}, err
	}

	var summary feedSummary
	if err := s.db.WithContext(ctx).Table(tableVersionControl(descriptor.Name)).
		Select("COUNT(*) AS record_count, COALESCE(MAX(seq), 0) AS max_seq").
		Take(&summary).Error; err != nil {
		s.logError(opInfo, "summary_read_failed", err, zap.String(fieldEntity, entity))
		return EntityInfo{}, newServiceError(opInfo, "summary_read_failed", err)
	}

	return EntityInfo{
		UpdateSeq:                summary.MaxSeq,
		InstanceStartedAtSeconds: s.startedAt.Unix(),
	}, nil
}
