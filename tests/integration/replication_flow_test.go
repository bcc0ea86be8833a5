package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seadriftlabs/seadrift/internal/database"
	"github.com/seadriftlabs/seadrift/internal/replication"
	"github.com/seadriftlabs/seadrift/internal/schema"
	"github.com/seadriftlabs/seadrift/internal/server"
	"github.com/seadriftlabs/seadrift/internal/store"
	"go.uber.org/zap"
)

const jsonContentType = "application/json"

func newReplicationHandler(testContext *testing.T) http.Handler {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := schema.NewRegistry([]schema.Descriptor{
		{
			Name: "projects",
			Fields: []schema.Field{
				{Name: "name", Kind: schema.FieldKindString, Required: true},
				{Name: "archived", Kind: schema.FieldKindBool},
			},
			Dependents: []schema.Dependent{
				{Entity: "tickets", ForeignKeyField: "project_id"},
			},
			ChangeLog: schema.RecordAllChanges(),
		},
		{
			Name: "tickets",
			Fields: []schema.Field{
				{Name: "project_id", Kind: schema.FieldKindString, Required: true},
				{Name: "summary", Kind: schema.FieldKindString, Required: true},
			},
		},
	})
	if err != nil {
		testContext.Fatalf("failed to build registry: %v", err)
	}

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, registry, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	documentStore, err := store.New(store.Config{
		Database:   db,
		Registry:   registry,
		Clock:      time.Now,
		IDProvider: store.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}

	service, err := replication.NewService(documentStore, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to build replication service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Replication: service,
		Actor:       "integration",
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doJSON(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", jsonContentType)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

// TestPushPullReplicationCycle walks the full peer protocol the way an
// external replicator would: diff, push, pull the feed, fetch revisions,
// and record a checkpoint.
func TestPushPullReplicationCycle(testContext *testing.T) {
	handler := newReplicationHandler(testContext)

	// Peer asks which of its revisions are unknown here.
	diff := doJSON(handler, http.MethodPost, "/r/projects/_revs_diff", `{"project-1":["1-aaa","2-bbb"]}`)
	if diff.Code != http.StatusOK {
		testContext.Fatalf("revs diff failed: %d %s", diff.Code, diff.Body.String())
	}
	var missing replication.RevsDiffResponse
	if err := json.Unmarshal(diff.Body.Bytes(), &missing); err != nil {
		testContext.Fatalf("failed to decode diff: %v", err)
	}
	if len(missing["project-1"].Missing) != 2 {
		testContext.Fatalf("expected both revisions missing, got %v", missing)
	}

	// Peer pushes the lineage, newest revision carrying its ancestry.
	push := doJSON(handler, http.MethodPost, "/r/projects/_bulk_docs", `{"new_edits":false,"docs":[
		{"_id":"project-1","_rev":"1-aaa","_revisions":{"start":1,"ids":["aaa"]},"name":"alpha"},
		{"_id":"project-1","_rev":"2-bbb","_revisions":{"start":2,"ids":["bbb","aaa"]},"name":"alpha renamed"}
	]}`)
	if push.Code != http.StatusCreated {
		testContext.Fatalf("bulk docs failed: %d %s", push.Code, push.Body.String())
	}
	var results []replication.BulkDocResult
	if err := json.Unmarshal(push.Body.Bytes(), &results); err != nil {
		testContext.Fatalf("failed to decode results: %v", err)
	}
	for _, result := range results {
		if !result.OK {
			testContext.Fatalf("push rejected: %+v", result)
		}
	}

	// The feed now exposes the single surviving leaf.
	changes := doJSON(handler, http.MethodGet, "/r/projects/_changes?feed=normal&style=all_docs&since=0", "")
	if changes.Code != http.StatusOK {
		testContext.Fatalf("changes failed: %d", changes.Code)
	}
	var feed replication.ChangesResponse
	if err := json.Unmarshal(changes.Body.Bytes(), &feed); err != nil {
		testContext.Fatalf("failed to decode feed: %v", err)
	}
	if len(feed.Results) != 1 || feed.Results[0].Changes[0].Rev != "2-bbb" || feed.Pending != 0 {
		testContext.Fatalf("unexpected feed: %+v", feed)
	}

	// A pulling peer fetches the winning revision with its ancestry block.
	fetch := doJSON(handler, http.MethodGet, `/r/projects/project-1?open_revs=["2-bbb"]`, "")
	if fetch.Code != http.StatusOK {
		testContext.Fatalf("open revs failed: %d %s", fetch.Code, fetch.Body.String())
	}
	var entries []map[string]any
	if err := json.Unmarshal(fetch.Body.Bytes(), &entries); err != nil {
		testContext.Fatalf("failed to decode entries: %v", err)
	}
	if len(entries) != 1 {
		testContext.Fatalf("expected a single entry, got %d", len(entries))
	}
	revisions := entries[0]["_revisions"].(map[string]any)
	ids := revisions["ids"].([]any)
	if revisions["start"] != float64(2) || len(ids) != 2 || ids[1] != "aaa" {
		testContext.Fatalf("unexpected ancestry block: %v", revisions)
	}

	// The session ends with a checkpoint both sides can resume from.
	checkpoint := doJSON(handler, http.MethodPut, "/r/projects/_local/session-1", fmt.Sprintf(`{"source_seq":%d}`, feed.LastSeq))
	if checkpoint.Code != http.StatusCreated {
		testContext.Fatalf("checkpoint put failed: %d", checkpoint.Code)
	}
	resume := doJSON(handler, http.MethodGet, "/r/projects/_local/session-1", "")
	if resume.Code != http.StatusOK {
		testContext.Fatalf("checkpoint get failed: %d", resume.Code)
	}
	var state map[string]any
	if err := json.Unmarshal(resume.Body.Bytes(), &state); err != nil {
		testContext.Fatalf("failed to decode checkpoint: %v", err)
	}
	if state["source_seq"] != float64(feed.LastSeq) {
		testContext.Fatalf("unexpected checkpoint state: %v", state)
	}
}

// TestConcurrentEditsConvergeDeterministically pushes two sibling revisions
// of the same parent, as two replicas editing offline would, and verifies
// both sides would elect the same winner.
func TestConcurrentEditsConvergeDeterministically(testContext *testing.T) {
	handler := newReplicationHandler(testContext)

	push := doJSON(handler, http.MethodPost, "/r/projects/_bulk_docs", `{"new_edits":false,"docs":[
		{"_id":"project-1","_rev":"1-aaa","_revisions":{"start":1,"ids":["aaa"]},"name":"base"},
		{"_id":"project-1","_rev":"2-071b","_revisions":{"start":2,"ids":["071b","aaa"]},"name":"replica one"},
		{"_id":"project-1","_rev":"2-9f4e","_revisions":{"start":2,"ids":["9f4e","aaa"]},"name":"replica two"}
	]}`)
	if push.Code != http.StatusCreated {
		testContext.Fatalf("bulk docs failed: %d %s", push.Code, push.Body.String())
	}

	fetch := doJSON(handler, http.MethodGet, "/r/projects/project-1", "")
	if fetch.Code != http.StatusOK {
		testContext.Fatalf("open revs failed: %d", fetch.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(fetch.Body.Bytes(), &entries); err != nil {
		testContext.Fatalf("failed to decode entries: %v", err)
	}
	// Depth ties break on the lexicographically greater hash.
	if entries[0]["_rev"] != "2-9f4e" || entries[0]["name"] != "replica two" {
		testContext.Fatalf("unexpected winner: %v", entries[0])
	}

	// Both leaves stay visible on the feed until the conflict is resolved.
	changes := doJSON(handler, http.MethodGet, "/r/projects/_changes", "")
	var feed replication.ChangesResponse
	if err := json.Unmarshal(changes.Body.Bytes(), &feed); err != nil {
		testContext.Fatalf("failed to decode feed: %v", err)
	}
	if len(feed.Results) != 2 {
		testContext.Fatalf("expected both conflict leaves on the feed, got %+v", feed)
	}
}
