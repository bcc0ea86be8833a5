package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/revision"
	"github.com/seadriftlabs/seadrift/internal/store"
	"go.uber.org/zap"
)

const localDocPrefix = "_local/"

var errMissingStore = errors.New("document store is required")

// Service speaks the replication protocol on top of the document store:
// changes paging, revision diffing, bulk ingestion and checkpoint state.
type Service struct {
	store  *store.Store
	logger *zap.Logger
}

// NewService wires the replication service.
func NewService(documentStore *store.Store, logger *zap.Logger) (*Service, error) {
	if documentStore == nil {
		return nil, errMissingStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: documentStore, logger: logger}, nil
}

// Info reports the entity's feed position. The instance start time is
// serialized as a microsecond string; peers compare it verbatim to detect
// server restarts.
func (s *Service) Info(ctx context.Context, entity string) (InfoResponse, error) {
	info, err := s.store.Info(ctx, entity)
	if err != nil {
		return InfoResponse{}, err
	}
	return InfoResponse{
		InstanceStartTime: strconv.FormatInt(info.InstanceStartedAtSeconds*1_000_000, 10),
		UpdateSeq:         info.UpdateSeq,
	}, nil
}

// Changes serves one page of the changes feed. Only the normal feed with
// all-docs style is supported; anything else is rejected before touching
// the store.
func (s *Service) Changes(ctx context.Context, entity, feed, style string, since int64, limit int) (ChangesResponse, error) {
	if feed != "" && feed != "normal" {
		return ChangesResponse{}, fmt.Errorf("%w: feed %q", mvcc.ErrNotImplemented, feed)
	}
	if style != "" && style != "all_docs" {
		return ChangesResponse{}, fmt.Errorf("%w: style %q", mvcc.ErrNotImplemented, style)
	}

	page, err := s.store.Changes(ctx, entity, since, limit)
	if err != nil {
		return ChangesResponse{}, err
	}

	response := ChangesResponse{
		Results: make([]ChangeResult, 0, len(page.Results)),
		LastSeq: page.LastSeq,
		Pending: page.Pending,
	}
	for _, change := range page.Results {
		response.Results = append(response.Results, ChangeResult{
			ID:      change.DocID,
			Seq:     change.Seq,
			Changes: []ChangeRev{{Rev: change.Rev}},
			Deleted: change.Deleted,
		})
	}
	return response, nil
}

// RevsDiff reports, per document, which of the peer's revisions this side
// does not hold. Documents with nothing missing are omitted.
func (s *Service) RevsDiff(ctx context.Context, entity string, request RevsDiffRequest) (RevsDiffResponse, error) {
	response := RevsDiffResponse{}
	for docID, wanted := range request {
		present, err := s.store.PresentRevs(ctx, entity, docID, wanted)
		if err != nil {
			return nil, err
		}
		var missing []string
		for _, rev := range wanted {
			if !present[rev] {
				missing = append(missing, rev)
			}
		}
		if len(missing) > 0 {
			response[docID] = RevsDiffEntry{Missing: missing}
		}
	}
	return response, nil
}

// BulkDocs ingests a batch of externally numbered documents, one transaction
// per document. A failing document never blocks the rest of the batch; its
// result carries the error instead.
func (s *Service) BulkDocs(ctx context.Context, entity string, request BulkDocsRequest, actor string) ([]BulkDocResult, error) {
	if request.NewEdits == nil || *request.NewEdits {
		return nil, fmt.Errorf("%w: bulk docs requires new_edits=false", mvcc.ErrNotImplemented)
	}

	results := make([]BulkDocResult, 0, len(request.Docs))
	for _, raw := range request.Docs {
		doc, err := parseIncomingDoc(raw)
		if err != nil {
			results = append(results, failedResult(doc, err))
			continue
		}
		if _, err := s.store.ForcePut(ctx, entity, doc.id, doc.rev, doc.ancestors, doc.payload, doc.deleted, actor); err != nil {
			s.logger.Warn("bulk doc rejected",
				zap.String("entity", entity),
				zap.String("doc_id", doc.id),
				zap.String("rev", doc.revText),
				zap.Error(err))
			results = append(results, failedResult(doc, err))
			continue
		}
		results = append(results, BulkDocResult{ID: doc.id, Rev: doc.revText, OK: true})
	}
	return results, nil
}

// OpenRevs resolves the winning revision plus every explicitly requested
// revision of one document. Revisions the ledger cannot serve come back as
// missing placeholders.
func (s *Service) OpenRevs(ctx context.Context, entity, docID string, revs []string) ([]json.RawMessage, error) {
	winning, err := s.store.WinningRev(ctx, entity, docID)
	if err != nil {
		return nil, err
	}
	if winning == "" && len(revs) == 0 {
		return nil, fmt.Errorf("%w: document %q", mvcc.ErrNotFound, docID)
	}

	var entries []json.RawMessage
	seen := map[string]bool{}
	if winning != "" {
		entry, err := s.resolveRevision(ctx, entity, docID, winning)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		seen[winning] = true
	}
	for _, rev := range revs {
		if seen[rev] {
			continue
		}
		seen[rev] = true
		entry, err := s.resolveRevision(ctx, entity, docID, rev)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetCheckpoint returns the latest authoritative checkpoint state as a
// local document.
func (s *Service) GetCheckpoint(ctx context.Context, entity, replicationID string) (json.RawMessage, error) {
	checkpoint, err := s.store.GetCheckpoint(ctx, entity, replicationID)
	if err != nil {
		return nil, err
	}

	state := map[string]any{}
	if err := json.Unmarshal([]byte(checkpoint.StateJSON), &state); err != nil {
		return nil, fmt.Errorf("%w: stored checkpoint state: %v", mvcc.ErrDataIntegrity, err)
	}
	state["_id"] = localDocPrefix + replicationID
	state["_rev"] = checkpoint.Rev
	return json.Marshal(state)
}

// PutCheckpoint appends a new checkpoint state from a local-document body.
func (s *Service) PutCheckpoint(ctx context.Context, entity, replicationID string, body json.RawMessage) (PutCheckpointResponse, error) {
	state := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &state); err != nil {
			return PutCheckpointResponse{}, fmt.Errorf("%w: checkpoint body: %v", revision.ErrMalformedPayload, err)
		}
	}
	delete(state, "_id")
	delete(state, "_rev")

	encoded, err := json.Marshal(state)
	if err != nil {
		return PutCheckpointResponse{}, err
	}
	checkpoint, err := s.store.PutCheckpoint(ctx, entity, replicationID, string(encoded))
	if err != nil {
		return PutCheckpointResponse{}, err
	}
	return PutCheckpointResponse{
		OK:  true,
		ID:  localDocPrefix + replicationID,
		Rev: checkpoint.Rev,
	}, nil
}

func (s *Service) resolveRevision(ctx context.Context, entity, docID, rev string) (json.RawMessage, error) {
	document, err := s.store.DocumentAtRev(ctx, entity, docID, rev)
	if err != nil {
		if errors.Is(err, revision.ErrMalformedRevision) {
			return json.Marshal(map[string]string{"missing": rev})
		}
		return nil, err
	}
	if document.Missing {
		return json.Marshal(map[string]string{"missing": rev})
	}
	return encodeDocument(docID, document)
}

// encodeDocument splices the underscore metadata ahead of the stored payload
// so the payload's field order survives the trip.
func encodeDocument(docID string, document store.RevisionDocument) (json.RawMessage, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	if err := writeStringMember(&buffer, "_id", docID); err != nil {
		return nil, err
	}
	buffer.WriteByte(',')
	if err := writeStringMember(&buffer, "_rev", document.Rev); err != nil {
		return nil, err
	}
	if document.Deleted {
		buffer.WriteString(`,"_deleted":true`)
	}
	revisions, err := json.Marshal(DocRevisions{Start: document.Start, IDs: document.IDs})
	if err != nil {
		return nil, err
	}
	buffer.WriteString(`,"_revisions":`)
	buffer.Write(revisions)

	payload := strings.TrimSpace(document.PayloadJSON)
	if !document.Deleted && len(payload) > 2 {
		buffer.WriteByte(',')
		buffer.WriteString(payload[1 : len(payload)-1])
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

func writeStringMember(buffer *bytes.Buffer, key, value string) error {
	encodedKey, err := json.Marshal(key)
	if err != nil {
		return err
	}
	encodedValue, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buffer.Write(encodedKey)
	buffer.WriteByte(':')
	buffer.Write(encodedValue)
	return nil
}

type incomingDoc struct {
	id        string
	revText   string
	rev       revision.Revision
	ancestors []string
	deleted   bool
	payload   map[string]any
}

// parseIncomingDoc splits a replicated document into its underscore metadata
// and its payload fields. The id, revision and ancestry block are all
// mandatory; unrecognized underscore fields are rejected.
func parseIncomingDoc(raw json.RawMessage) (incomingDoc, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return incomingDoc{}, fmt.Errorf("%w: %v", revision.ErrMalformedPayload, err)
	}

	doc := incomingDoc{payload: map[string]any{}}
	doc.id, _ = fields["_id"].(string)
	doc.revText, _ = fields["_rev"].(string)
	doc.deleted, _ = fields["_deleted"].(bool)
	if doc.id == "" {
		return doc, fmt.Errorf("%w: _id is required", revision.ErrMalformedPayload)
	}
	if doc.revText == "" {
		return doc, fmt.Errorf("%w: _rev is required", revision.ErrMalformedRevision)
	}

	revisionsRaw, hasRevisions := fields["_revisions"]
	if !hasRevisions {
		return doc, fmt.Errorf("%w: _revisions is required", revision.ErrMalformedRevision)
	}
	encoded, err := json.Marshal(revisionsRaw)
	if err != nil {
		return doc, fmt.Errorf("%w: _revisions: %v", revision.ErrMalformedRevision, err)
	}
	var block DocRevisions
	if err := json.Unmarshal(encoded, &block); err != nil {
		return doc, fmt.Errorf("%w: _revisions: %v", revision.ErrMalformedRevision, err)
	}
	doc.rev, doc.ancestors, err = revision.FromDocRevisions(block.Start, block.IDs)
	if err != nil {
		return doc, err
	}
	if doc.rev.String() != doc.revText {
		return doc, fmt.Errorf("%w: _rev %q does not match _revisions head %q", revision.ErrMalformedRevision, doc.revText, doc.rev)
	}

	for key, value := range fields {
		if strings.HasPrefix(key, "_") {
			switch key {
			case "_id", "_rev", "_deleted", "_revisions":
				continue
			default:
				return doc, fmt.Errorf("%w: unsupported field %q", revision.ErrMalformedPayload, key)
			}
		}
		doc.payload[key] = value
	}
	return doc, nil
}

func failedResult(doc incomingDoc, err error) BulkDocResult {
	return BulkDocResult{
		ID:     doc.id,
		Rev:    doc.revText,
		OK:     false,
		Error:  errorName(err),
		Reason: err.Error(),
	}
}

func errorName(err error) string {
	switch {
	case errors.Is(err, mvcc.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, mvcc.ErrNotFound):
		return "not_found"
	case errors.Is(err, mvcc.ErrDataIntegrity):
		return "internal_error"
	case errors.Is(err, revision.ErrMalformedRevision),
		errors.Is(err, revision.ErrMalformedPayload):
		return "bad_request"
	default:
		return "forbidden"
	}
}
