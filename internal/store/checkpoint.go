package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/revision"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Checkpoint is the authoritative replication-checkpoint state for one
// replication id: the newest appended row.
type Checkpoint struct {
	ReplicationID string
	Rev           string
	SessionSeq    int64
	StateJSON     string
}

// PutCheckpoint appends a new checkpoint state. Rows are never mutated; the
// session sequence increases monotonically per replication id and the
// returned revision is a content hash of the stored state.
func (s *Store) PutCheckpoint(ctx context.Context, entity, replicationID, stateJSON string) (Checkpoint, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return Checkpoint{}, err
	}

	hash, err := revision.HashPayload(stateJSON)
	if err != nil {
		return Checkpoint{}, err
	}
	rev := fmt.Sprintf("0-%s", hash)

	var saved Checkpoint
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lastSeq int64
		if err := tx.Table(tableCheckpoints(descriptor.Name)).
			Select("COALESCE(MAX(session_seq), 0)").
			Where("replication_id = ?", replicationID).
			Scan(&lastSeq).Error; err != nil {
			s.logError(opCheckpoint, "sequence_read_failed", err, zap.String(fieldEntity, entity))
			return newServiceError(opCheckpoint, "sequence_read_failed", err)
		}

		row := mvcc.CheckpointRow{
			ReplicationID:    replicationID,
			Rev:              rev,
			SessionSeq:       lastSeq + 1,
			StateJSON:        stateJSON,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Table(tableCheckpoints(descriptor.Name)).Create(&row).Error; err != nil {
			s.logError(opCheckpoint, "append_failed", err, zap.String(fieldEntity, entity))
			return newServiceError(opCheckpoint, "append_failed", err)
		}

		saved = Checkpoint{
			ReplicationID: replicationID,
			Rev:           row.Rev,
			SessionSeq:    row.SessionSeq,
			StateJSON:     row.StateJSON,
		}
		return nil
	})
	if txErr != nil {
		return Checkpoint{}, txErr
	}
	return saved, nil
}

// GetCheckpoint reduces the append-only checkpoint history to its latest
// authoritative row.
func (s *Store) GetCheckpoint(ctx context.Context, entity, replicationID string) (Checkpoint, error) {
	descriptor, err := s.registry.Entity(entity)
	if err != nil {
		return Checkpoint{}, err
	}

	var row mvcc.CheckpointRow
	err = s.db.WithContext(ctx).Table(tableCheckpoints(descriptor.Name)).
		Where("replication_id = ?", replicationID).
		Order("row_id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %q", mvcc.ErrNotFound, replicationID)
	}
	if err != nil {
		s.logError(opCheckpoint, "read_failed", err, zap.String(fieldEntity, entity))
		return Checkpoint{}, newServiceError(opCheckpoint, "read_failed", err)
	}

	return Checkpoint{
		ReplicationID: row.ReplicationID,
		Rev:           row.Rev,
		SessionSeq:    row.SessionSeq,
		StateJSON:     row.StateJSON,
	}, nil
}
