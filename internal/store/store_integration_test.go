package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/seadriftlabs/seadrift/internal/database"
	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/revision"
	"github.com/seadriftlabs/seadrift/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testActor = "tester"

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry, err := schema.NewRegistry([]schema.Descriptor{
		{
			Name: "tasks",
			Fields: []schema.Field{
				{Name: "title", Kind: schema.FieldKindString, Required: true},
				{Name: "priority", Kind: schema.FieldKindInt},
				{Name: "done", Kind: schema.FieldKindBool},
			},
			Dependents: []schema.Dependent{
				{Entity: "comments", ForeignKeyField: "task_id"},
				{Entity: "task_events", ForeignKeyField: "task_id", Immutable: true},
			},
			ChangeLog: schema.RecordAllChanges(),
		},
		{
			Name: "comments",
			Fields: []schema.Field{
				{Name: "task_id", Kind: schema.FieldKindString, Required: true},
				{Name: "body", Kind: schema.FieldKindString, Required: true},
			},
		},
		{
			Name: "task_events",
			Fields: []schema.Field{
				{Name: "task_id", Kind: schema.FieldKindString, Required: true},
				{Name: "label", Kind: schema.FieldKindString},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

func newTestStore(t *testing.T, ids []string) (*Store, *gorm.DB) {
	t.Helper()

	registry := testRegistry(t)
	dsn := fmt.Sprintf("file:seadrift_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, registry, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	generator := &staticIDGenerator{ids: ids}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	documentStore, err := New(Config{
		Database:   db,
		Registry:   registry,
		Clock:      clock,
		IDProvider: generator,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return documentStore, db
}

func mustPost(t *testing.T, documentStore *Store, entity, docID string, payload map[string]any) ApplyOutcome {
	t.Helper()
	outcome, err := documentStore.Post(context.Background(), entity, docID, payload, testActor)
	if err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	return outcome
}

func ledgerRows(t *testing.T, db *gorm.DB, entity, docID string) []mvcc.VersionControlRecord {
	t.Helper()
	var rows []mvcc.VersionControlRecord
	if err := db.Table(entity+"_versioncontrol").Where("doc_id = ?", docID).Order("seq ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	return rows
}

func currentRow(t *testing.T, db *gorm.DB, entity, docID string) (mvcc.CurrentRow, bool) {
	t.Helper()
	var row mvcc.CurrentRow
	err := db.Table(entity+"_current").Where("doc_id = ?", docID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return mvcc.CurrentRow{}, false
	}
	if err != nil {
		t.Fatalf("failed to read current row: %v", err)
	}
	return row, true
}

func TestPostCreatesRootWinner(t *testing.T) {
	documentStore, db := newTestStore(t, []string{"change-1"})

	outcome := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "write report", "priority": float64(3)})
	if !strings.HasPrefix(outcome.Rev, "1-") {
		t.Fatalf("expected depth-1 revision, got %s", outcome.Rev)
	}
	if outcome.WinningRev != outcome.Rev {
		t.Fatalf("expected new revision to win, got %s", outcome.WinningRev)
	}
	if outcome.InConflict {
		t.Fatalf("expected conflict-free document")
	}

	rows := ledgerRows(t, db, "tasks", "task-1")
	if len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(rows))
	}
	if !rows[0].IsLeaf || !rows[0].IsWinner || rows[0].IsDeleted || rows[0].IsConflict {
		t.Fatalf("unexpected ledger flags: %+v", rows[0])
	}

	current, found := currentRow(t, db, "tasks", "task-1")
	if !found {
		t.Fatalf("expected current row")
	}
	if current.Rev != outcome.Rev {
		t.Fatalf("current row holds %s, want %s", current.Rev, outcome.Rev)
	}
	if !strings.Contains(current.PayloadJSON, `"title":"write report"`) {
		t.Fatalf("unexpected current payload %s", current.PayloadJSON)
	}

	var audit mvcc.ChangeLogRow
	if err := db.Table("tasks_changelog").Take(&audit).Error; err != nil {
		t.Fatalf("failed to load change log: %v", err)
	}
	if audit.ChangeID != "change-1" || audit.Operation != "create" || audit.Actor != testActor {
		t.Fatalf("unexpected change log row: %+v", audit)
	}
}

func TestPostRejectsLiveDocument(t *testing.T) {
	documentStore, _ := newTestStore(t, []string{"change-1", "change-2"})

	mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "one"})
	_, err := documentStore.Post(context.Background(), "tasks", "task-1", map[string]any{"title": "two"}, testActor)
	if !errors.Is(err, mvcc.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestPutExtendsWinnerAndDemotesParent(t *testing.T) {
	documentStore, db := newTestStore(t, []string{"change-1", "change-2", "change-3"})

	created := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "draft"})
	updated, err := documentStore.Put(context.Background(), "tasks", "task-1", created.Rev, map[string]any{"title": "final"}, testActor)
	if err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if !strings.HasPrefix(updated.Rev, "2-") {
		t.Fatalf("expected depth-2 revision, got %s", updated.Rev)
	}

	rows := ledgerRows(t, db, "tasks", "task-1")
	if len(rows) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(rows))
	}
	parent, child := rows[0], rows[1]
	if parent.IsLeaf || parent.IsWinner {
		t.Fatalf("expected parent demoted, got %+v", parent)
	}
	if !child.IsLeaf || !child.IsWinner {
		t.Fatalf("expected child promoted, got %+v", child)
	}
	if child.Ancestry != parent.Hash() {
		t.Fatalf("expected child ancestry %q, got %q", parent.Hash(), child.Ancestry)
	}

	// The demoted parent is no longer a valid put target.
	_, err = documentStore.Put(context.Background(), "tasks", "task-1", created.Rev, map[string]any{"title": "stale"}, testActor)
	if !errors.Is(err, mvcc.ErrVersionConflict) {
		t.Fatalf("expected version conflict on stale put, got %v", err)
	}
}

func TestForcePutSiblingsConflictAndElectWinner(t *testing.T) {
	documentStore, db := newTestStore(t, []string{"change-1", "change-2", "change-3"})

	rev1 := mustRevision(t, "1-aaa")
	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", rev1, nil, map[string]any{"title": "base"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}

	revB := mustRevision(t, "2-bbb")
	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", revB, []string{"aaa"}, map[string]any{"title": "left"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}
	revC := mustRevision(t, "2-ccc")
	outcome, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", revC, []string{"aaa"}, map[string]any{"title": "right"}, false, testActor)
	if err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}
	if outcome.WinningRev != "2-ccc" {
		t.Fatalf("expected 2-ccc to win, got %s", outcome.WinningRev)
	}
	if !outcome.InConflict {
		t.Fatalf("expected conflict after sibling branch")
	}

	current, found := currentRow(t, db, "tasks", "task-1")
	if !found {
		t.Fatalf("expected current row")
	}
	if current.Rev != "2-ccc" || !current.InConflict {
		t.Fatalf("unexpected current row: %+v", current)
	}

	for _, row := range ledgerRows(t, db, "tasks", "task-1") {
		if row.Rev == "1-aaa" {
			continue
		}
		if !row.IsConflict {
			t.Fatalf("expected leaf %s marked conflicted", row.Rev)
		}
	}

	// Replaying an already recorded revision is refused.
	_, err = documentStore.ForcePut(context.Background(), "tasks", "task-1", revC, []string{"aaa"}, map[string]any{"title": "again"}, false, testActor)
	if !errors.Is(err, mvcc.ErrVersionConflict) {
		t.Fatalf("expected version conflict on duplicate, got %v", err)
	}
}

func TestDeleteSoleSiblingPromotesSurvivor(t *testing.T) {
	documentStore, db := newTestStore(t, []string{"change-1", "change-2", "change-3"})

	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "2-bbb"), []string{"aaa"}, map[string]any{"title": "left"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}
	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "2-ccc"), []string{"aaa"}, map[string]any{"title": "right"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}

	outcome, err := documentStore.Delete(context.Background(), "tasks", "task-1", "2-ccc", testActor)
	if err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if outcome.WinningRev != "2-bbb" {
		t.Fatalf("expected 2-bbb promoted, got %s", outcome.WinningRev)
	}

	current, found := currentRow(t, db, "tasks", "task-1")
	if !found {
		t.Fatalf("expected current row after sibling promotion")
	}
	if current.Rev != "2-bbb" || current.InConflict {
		t.Fatalf("unexpected current row: %+v", current)
	}
	if !strings.Contains(current.PayloadJSON, `"title":"left"`) {
		t.Fatalf("expected survivor payload restored from history, got %s", current.PayloadJSON)
	}
}

func TestDeleteBothSiblingsSameSecondKeepsRevsUnique(t *testing.T) {
	// The fixed test clock lands both deletes on the same second with the
	// same actor, the tightest squeeze on tombstone revision identity.
	documentStore, db := newTestStore(t, []string{"change-1", "change-2", "change-3", "change-4"})

	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "2-bbb"), []string{"aaa"}, map[string]any{"title": "left"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}
	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "2-ccc"), []string{"aaa"}, map[string]any{"title": "right"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}

	if _, err := documentStore.Delete(context.Background(), "tasks", "task-1", "2-ccc", testActor); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := documentStore.Delete(context.Background(), "tasks", "task-1", "2-bbb", testActor); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	rows := ledgerRows(t, db, "tasks", "task-1")
	seen := make(map[string]bool, len(rows))
	tombstones := 0
	for _, row := range rows {
		if seen[row.Rev] {
			t.Fatalf("duplicate ledger revision %s", row.Rev)
		}
		seen[row.Rev] = true
		if row.IsDeleted {
			tombstones++
		}
	}
	if tombstones != 2 {
		t.Fatalf("expected two tombstone rows, got %d in %+v", tombstones, rows)
	}
	if _, found := currentRow(t, db, "tasks", "task-1"); found {
		t.Fatalf("expected current row removed after the last live leaf died")
	}
}

func TestDeleteLastLeafCascadesDependents(t *testing.T) {
	documentStore, db := newTestStore(t, []string{"change-1", "change-2", "change-3"})

	task := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "parent"})
	mustPost(t, documentStore, "comments", "comment-1", map[string]any{"task_id": "task-1", "body": "note"})
	mustPost(t, documentStore, "task_events", "event-1", map[string]any{"task_id": "task-1", "label": "created"})

	if _, err := documentStore.Delete(context.Background(), "tasks", "task-1", task.Rev, testActor); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	if _, found := currentRow(t, db, "tasks", "task-1"); found {
		t.Fatalf("expected task current row removed")
	}
	if _, found := currentRow(t, db, "comments", "comment-1"); found {
		t.Fatalf("expected comment current row removed")
	}

	commentRows := ledgerRows(t, db, "comments", "comment-1")
	if len(commentRows) != 2 {
		t.Fatalf("expected comment ledger of 2 rows, got %d", len(commentRows))
	}
	tombstone := commentRows[1]
	if !tombstone.IsDeleted || !tombstone.IsLeaf {
		t.Fatalf("expected replicable tombstone leaf, got %+v", tombstone)
	}

	var commentChanges int64
	if err := db.Table("comments_changelog").Count(&commentChanges).Error; err != nil {
		t.Fatalf("failed to count comment change log: %v", err)
	}
	if commentChanges != 0 {
		t.Fatalf("expected comment change log purged, got %d rows", commentChanges)
	}

	eventRows := ledgerRows(t, db, "task_events", "event-1")
	if len(eventRows) != 0 {
		t.Fatalf("expected immutable dependent purged, got %d ledger rows", len(eventRows))
	}
	if _, found := currentRow(t, db, "task_events", "event-1"); found {
		t.Fatalf("expected immutable dependent current row removed")
	}
}

func TestDeleteErrors(t *testing.T) {
	documentStore, _ := newTestStore(t, []string{"change-1", "change-2"})
	created := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "one"})

	if _, err := documentStore.Delete(context.Background(), "tasks", "task-1", "1-unknown", testActor); !errors.Is(err, mvcc.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := documentStore.Put(context.Background(), "tasks", "task-1", created.Rev, map[string]any{"title": "two"}, testActor); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if _, err := documentStore.Delete(context.Background(), "tasks", "task-1", created.Rev, testActor); !errors.Is(err, mvcc.ErrNotALeaf) {
		t.Fatalf("expected not-a-leaf, got %v", err)
	}
}

func TestPostAfterFullDeletionStartsFresh(t *testing.T) {
	documentStore, _ := newTestStore(t, []string{"change-1", "change-2", "change-3"})

	created := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "first life"})
	if _, err := documentStore.Delete(context.Background(), "tasks", "task-1", created.Rev, testActor); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	revived := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "second life"})
	if !strings.HasPrefix(revived.Rev, "1-") {
		t.Fatalf("expected fresh depth-1 lineage, got %s", revived.Rev)
	}
}

func TestValidationRejectsBadPayloads(t *testing.T) {
	documentStore, _ := newTestStore(t, []string{"change-1"})

	if _, err := documentStore.Post(context.Background(), "tasks", "task-1", map[string]any{"title": "x", "bogus": true}, testActor); !errors.Is(err, schema.ErrUnknownField) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if _, err := documentStore.Post(context.Background(), "tasks", "task-1", map[string]any{"priority": float64(1)}, testActor); !errors.Is(err, schema.ErrMissingField) {
		t.Fatalf("expected missing field error, got %v", err)
	}
	if _, err := documentStore.Post(context.Background(), "unknown", "doc-1", map[string]any{"title": "x"}, testActor); !errors.Is(err, schema.ErrUnknownEntity) {
		t.Fatalf("expected unknown entity error, got %v", err)
	}
}

func TestChangesFeedPagesToSnapshotBoundary(t *testing.T) {
	documentStore, _ := newTestStore(t, nil)

	for index := 0; index < 150; index++ {
		mustPost(t, documentStore, "comments", fmt.Sprintf("comment-%03d", index), map[string]any{
			"task_id": "task-1",
			"body":    fmt.Sprintf("body %d", index),
		})
	}

	page, err := documentStore.Changes(context.Background(), "comments", 0, 50)
	if err != nil {
		t.Fatalf("unexpected changes error: %v", err)
	}
	if len(page.Results) != 50 {
		t.Fatalf("expected 50 results, got %d", len(page.Results))
	}
	if page.Pending != 100 {
		t.Fatalf("expected pending 100, got %d", page.Pending)
	}

	emitted := len(page.Results)
	since := page.LastSeq
	for page.Pending > 0 {
		page, err = documentStore.Changes(context.Background(), "comments", since, 50)
		if err != nil {
			t.Fatalf("unexpected changes error: %v", err)
		}
		emitted += len(page.Results)
		since = page.LastSeq
	}
	if emitted != 150 {
		t.Fatalf("expected 150 rows across pages, got %d", emitted)
	}
	if page.Pending != 0 {
		t.Fatalf("expected final pending 0, got %d", page.Pending)
	}

	tail, err := documentStore.Changes(context.Background(), "comments", since, 50)
	if err != nil {
		t.Fatalf("unexpected changes error: %v", err)
	}
	if len(tail.Results) != 0 || tail.LastSeq != since {
		t.Fatalf("expected empty tail page at last seq %d, got %+v", since, tail)
	}
}

func TestChangesFeedEmitsOnlyLeaves(t *testing.T) {
	documentStore, _ := newTestStore(t, nil)

	created := mustPost(t, documentStore, "comments", "comment-1", map[string]any{"task_id": "t", "body": "a"})
	updated, err := documentStore.Put(context.Background(), "comments", "comment-1", created.Rev, map[string]any{"task_id": "t", "body": "b"}, testActor)
	if err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	page, err := documentStore.Changes(context.Background(), "comments", 0, 0)
	if err != nil {
		t.Fatalf("unexpected changes error: %v", err)
	}
	if len(page.Results) != 1 {
		t.Fatalf("expected 1 leaf row, got %d", len(page.Results))
	}
	if page.Results[0].Rev != updated.Rev {
		t.Fatalf("expected leaf %s, got %s", updated.Rev, page.Results[0].Rev)
	}
}

func TestInfoReportsUpdateSeq(t *testing.T) {
	documentStore, _ := newTestStore(t, nil)

	info, err := documentStore.Info(context.Background(), "comments")
	if err != nil {
		t.Fatalf("unexpected info error: %v", err)
	}
	if info.UpdateSeq != 0 {
		t.Fatalf("expected empty feed, got update seq %d", info.UpdateSeq)
	}

	mustPost(t, documentStore, "comments", "comment-1", map[string]any{"task_id": "t", "body": "a"})
	info, err = documentStore.Info(context.Background(), "comments")
	if err != nil {
		t.Fatalf("unexpected info error: %v", err)
	}
	if info.UpdateSeq != 1 {
		t.Fatalf("expected update seq 1, got %d", info.UpdateSeq)
	}
	if info.InstanceStartedAtSeconds != 1700000600 {
		t.Fatalf("unexpected instance start %d", info.InstanceStartedAtSeconds)
	}
}

func TestPresentRevsExcludesStubs(t *testing.T) {
	documentStore, _ := newTestStore(t, []string{"change-1"})

	// 3-ccc arrives with two unknown ancestors; 1-aaa and 2-bbb become stubs.
	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "3-ccc"), []string{"bbb", "aaa"}, map[string]any{"title": "deep"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}

	present, err := documentStore.PresentRevs(context.Background(), "tasks", "task-1", []string{"3-ccc", "2-bbb", "1-aaa", "9-zzz"})
	if err != nil {
		t.Fatalf("unexpected present revs error: %v", err)
	}
	if !present["3-ccc"] {
		t.Fatalf("expected 3-ccc present")
	}
	for _, rev := range []string{"2-bbb", "1-aaa", "9-zzz"} {
		if present[rev] {
			t.Fatalf("expected %s reported missing", rev)
		}
	}
}

func TestDocumentAtRevShapes(t *testing.T) {
	documentStore, _ := newTestStore(t, []string{"change-1", "change-2", "change-3"})

	created := mustPost(t, documentStore, "tasks", "task-1", map[string]any{"title": "v1"})
	updated, err := documentStore.Put(context.Background(), "tasks", "task-1", created.Rev, map[string]any{"title": "v2"}, testActor)
	if err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	document, err := documentStore.DocumentAtRev(context.Background(), "tasks", "task-1", updated.Rev)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if document.Missing || document.Deleted {
		t.Fatalf("unexpected document state: %+v", document)
	}
	if document.Start != 2 || len(document.IDs) != 2 {
		t.Fatalf("unexpected ancestry block: start=%d ids=%v", document.Start, document.IDs)
	}
	parsed := mustRevision(t, created.Rev)
	if document.IDs[1] != parsed.Hash() {
		t.Fatalf("expected parent hash %s, got %s", parsed.Hash(), document.IDs[1])
	}

	missing, err := documentStore.DocumentAtRev(context.Background(), "tasks", "task-1", "5-nope")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !missing.Missing {
		t.Fatalf("expected unknown revision reported missing")
	}

	if _, err := documentStore.DocumentAtRev(context.Background(), "tasks", "task-1", "bogus"); !errors.Is(err, revision.ErrMalformedRevision) {
		t.Fatalf("expected malformed revision error, got %v", err)
	}
}

func TestCheckpointsAppendMonotonically(t *testing.T) {
	documentStore, _ := newTestStore(t, nil)

	first, err := documentStore.PutCheckpoint(context.Background(), "tasks", "repl-1", `{"source_seq":10}`)
	if err != nil {
		t.Fatalf("unexpected checkpoint error: %v", err)
	}
	if first.SessionSeq != 1 || !strings.HasPrefix(first.Rev, "0-") {
		t.Fatalf("unexpected first checkpoint: %+v", first)
	}

	second, err := documentStore.PutCheckpoint(context.Background(), "tasks", "repl-1", `{"source_seq":25}`)
	if err != nil {
		t.Fatalf("unexpected checkpoint error: %v", err)
	}
	if second.SessionSeq != 2 {
		t.Fatalf("expected session seq 2, got %d", second.SessionSeq)
	}

	latest, err := documentStore.GetCheckpoint(context.Background(), "tasks", "repl-1")
	if err != nil {
		t.Fatalf("unexpected checkpoint error: %v", err)
	}
	if latest.StateJSON != `{"source_seq":25}` || latest.Rev != second.Rev {
		t.Fatalf("unexpected latest checkpoint: %+v", latest)
	}

	if _, err := documentStore.GetCheckpoint(context.Background(), "tasks", "repl-2"); !errors.Is(err, mvcc.ErrNotFound) {
		t.Fatalf("expected not found for unknown replication id, got %v", err)
	}
}

func TestStubFillRestoresPayload(t *testing.T) {
	documentStore, db := newTestStore(t, []string{"change-1"})

	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "2-bbb"), []string{"aaa"}, map[string]any{"title": "child"}, false, testActor); err != nil {
		t.Fatalf("unexpected force put error: %v", err)
	}
	if _, err := documentStore.ForcePut(context.Background(), "tasks", "task-1", mustRevision(t, "1-aaa"), nil, map[string]any{"title": "root"}, false, testActor); err != nil {
		t.Fatalf("unexpected stub fill error: %v", err)
	}

	for _, row := range ledgerRows(t, db, "tasks", "task-1") {
		if row.IsStub {
			t.Fatalf("expected no stub rows left, got %+v", row)
		}
	}
	document, err := documentStore.DocumentAtRev(context.Background(), "tasks", "task-1", "1-aaa")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if document.Missing || !strings.Contains(document.PayloadJSON, `"title":"root"`) {
		t.Fatalf("expected filled stub served, got %+v", document)
	}
}

func mustRevision(t *testing.T, raw string) revision.Revision {
	t.Helper()
	rev, err := revision.Parse(raw)
	if err != nil {
		t.Fatalf("unexpected revision parse error: %v", err)
	}
	return rev
}
