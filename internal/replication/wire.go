package replication

import "encoding/json"

// InfoResponse is the per-entity replication endpoint summary.
type InfoResponse struct {
	InstanceStartTime string `json:"instance_start_time"`
	UpdateSeq         int64  `json:"update_seq"`
}

// ChangeRev is one revision entry of a changes-feed result row.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// ChangeResult is one changes-feed result row: a leaf revision of a document.
type ChangeResult struct {
	ID      string      `json:"id"`
	Seq     int64       `json:"seq"`
	Changes []ChangeRev `json:"changes"`
	Deleted bool        `json:"deleted,omitempty"`
}

// ChangesResponse is one page of the changes feed.
type ChangesResponse struct {
	Results []ChangeResult `json:"results"`
	LastSeq int64          `json:"last_seq"`
	Pending int64          `json:"pending"`
}

// RevsDiffRequest maps document ids to the revisions a peer wants to push.
type RevsDiffRequest map[string][]string

// RevsDiffEntry lists the wanted revisions this side does not hold.
type RevsDiffEntry struct {
	Missing []string `json:"missing"`
}

// RevsDiffResponse maps document ids to their missing revisions. Documents
// with nothing missing are omitted.
type RevsDiffResponse map[string]RevsDiffEntry

// DocRevisions is the wire ancestry block of a replicated document: depth of
// the newest revision and hashes newest-first, own hash included.
type DocRevisions struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

// BulkDocsRequest is a batch of externally numbered documents to ingest.
type BulkDocsRequest struct {
	NewEdits *bool             `json:"new_edits"`
	Docs     []json.RawMessage `json:"docs"`
}

// BulkDocResult reports one document of a bulk-docs batch. Failed documents
// carry a machine-readable error name and a human-readable reason.
type BulkDocResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PutCheckpointResponse acknowledges an appended replication checkpoint.
type PutCheckpointResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}
