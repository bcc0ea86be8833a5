package mvcc

// VersionControlRecord is one row of the append-mostly per-entity revision
// ledger. Identity columns are immutable once inserted; only the boolean
// flags are ever updated in place. Rows bind to per-entity tables at query
// time, so no static table name is declared.
type VersionControlRecord struct {
	Seq              int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	DocID            string `gorm:"column:doc_id;size:190;not null;index"`
	Rev              string `gorm:"column:rev;size:190;not null;index"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
	UpdatedBy        string `gorm:"column:updated_by;size:190;not null;default:''"`
	Depth            int    `gorm:"column:depth;not null"`
	Ancestry         string `gorm:"column:ancestry;type:text;not null;default:''"`
	IsLeaf           bool   `gorm:"column:is_leaf;not null;default:false"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	IsStub           bool   `gorm:"column:is_stub;not null;default:false"`
	IsConflict       bool   `gorm:"column:is_conflict;not null;default:false"`
	IsWinner         bool   `gorm:"column:is_winner;not null;default:false"`
}

// Hash returns the content-hash suffix of the row's revision identifier.
func (r VersionControlRecord) Hash() string {
	for position := 0; position < len(r.Rev); position++ {
		if r.Rev[position] == '-' {
			return r.Rev[position+1:]
		}
	}
	return r.Rev
}

// CurrentRow is the single materialized row per live document, mirroring the
// winner's payload and conflict state.
type CurrentRow struct {
	DocID            string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	Rev              string `gorm:"column:rev;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	InConflict       bool   `gorm:"column:in_conflict;not null;default:false"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
	UpdatedBy        string `gorm:"column:updated_by;size:190;not null;default:''"`
}

// HistoryRow is the immutable payload snapshot for one non-deleted revision.
type HistoryRow struct {
	DocID       string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	Rev         string `gorm:"column:rev;primaryKey;size:190;not null"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
}

// ChangeLogRow is one append-only change-log entry, written when the entity's
// change recorder matches a current-row transition.
type ChangeLogRow struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null"`
	DocID            string `gorm:"column:doc_id;size:190;not null;index"`
	Rev              string `gorm:"column:rev;size:190;not null"`
	Operation        string `gorm:"column:op;size:32;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
	Actor            string `gorm:"column:actor;size:190;not null;default:''"`
}

// CheckpointRow is one appended replication-checkpoint state. The newest row
// per replication id is authoritative.
type CheckpointRow struct {
	RowID            int64  `gorm:"column:row_id;primaryKey;autoIncrement"`
	ReplicationID    string `gorm:"column:replication_id;size:190;not null;index"`
	Rev              string `gorm:"column:rev;size:190;not null"`
	SessionSeq       int64  `gorm:"column:session_seq;not null"`
	StateJSON        string `gorm:"column:state_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}
