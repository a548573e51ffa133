package workflowapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/c360studio/agentflow/approval"
	"github.com/c360studio/agentflow/orchestrator"
	"github.com/c360studio/agentflow/workflow"
)

// RegisterHTTPHandlers registers HTTP handlers for the workflow-api
// component. The prefix may or may not include a trailing slash.
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"invoke", c.handleInvoke)
	mux.HandleFunc(prefix+"threads", c.handleThreads)
	mux.HandleFunc(prefix+"threads/", c.handleThreadsWithID)
	mux.HandleFunc(prefix+"approvals", c.handleApprovals)
	mux.HandleFunc(prefix+"approvals/", c.handleApprovalsWithID)
	mux.HandleFunc("/metrics", c.handleMetrics)
}

// handleMetrics serves the Prometheus scrape endpoint. Registered outside
// prefix since scrapers expect "/metrics" unconditionally.
func (c *Component) handleMetrics(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}
	stack.Metrics.Handler().ServeHTTP(w, r)
}

// invokeRequestBody is the wire shape POST /invoke accepts, matching
// spec.md §6.
type invokeRequestBody struct {
	Steps                []*workflow.WorkflowStep `json:"steps"`
	ProjectID            string                   `json:"projectId"`
	ThreadID             string                   `json:"threadId,omitempty"`
	StartNewConversation bool                     `json:"startNewConversation,omitempty"`
}

func (c *Component) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, c.config.MaxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var req invokeRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := stack.Orchestrator.Invoke(r.Context(), orchestrator.Request{
		Steps:                req.Steps,
		ProjectID:            req.ProjectID,
		ThreadID:             req.ThreadID,
		StartNewConversation: req.StartNewConversation,
	})
	if err != nil {
		writeInvokeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeInvokeError(w http.ResponseWriter, err error) {
	var verr *workflow.ValidationError
	if ok := asValidationError(err, &verr); ok {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func asValidationError(err error, target **workflow.ValidationError) bool {
	v, ok := err.(*workflow.ValidationError)
	if !ok {
		return false
	}
	*target = v
	return true
}

// handleThreads serves GET /threads?project=<id>.
func (c *Component) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}

	summaries, err := stack.Registry.List(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		c.logger.Error("list threads failed", "error", err)
		http.Error(w, "failed to list threads", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleThreadsWithID serves GET/DELETE /threads/{id} and
// GET /threads/{id}/graph and GET /threads/{id}/events.
func (c *Component) handleThreadsWithID(w http.ResponseWriter, r *http.Request) {
	id, endpoint := extractIDAndEndpoint(r.URL.Path, "/threads/")
	if id == "" {
		http.Error(w, "thread id required", http.StatusBadRequest)
		return
	}

	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}

	switch endpoint {
	case "":
		switch r.Method {
		case http.MethodGet:
			summary, err := stack.Registry.Get(r.Context(), id)
			if err != nil {
				http.Error(w, "thread not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, summary)
		case http.MethodDelete:
			if err := stack.Registry.Delete(r.Context(), id); err != nil {
				http.Error(w, "failed to delete thread", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case "graph":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		g, err := stack.Registry.Graph(r.Context(), id)
		if err != nil {
			http.Error(w, "thread not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, g)

	case "events":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c.serveThreadEvents(w, r, id)

	default:
		http.Error(w, "unknown endpoint", http.StatusNotFound)
	}
}

// handleApprovals serves GET /approvals?project=<id>&status=<status>.
func (c *Component) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}

	filters := approval.ListFilters{ProjectID: r.URL.Query().Get("project")}
	if s := r.URL.Query().Get("status"); s != "" {
		filters.Status = []workflow.ApprovalStatus{workflow.ApprovalStatus(s)}
	}

	result, err := stack.Approvals.List(r.Context(), filters, approval.Page{})
	if err != nil {
		c.logger.Error("list approvals failed", "error", err)
		http.Error(w, "failed to list approvals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type decideRequestBody struct {
	Approve bool   `json:"approve"`
	Decider string `json:"decider"`
	Comment string `json:"comment,omitempty"`
}

// handleApprovalsWithID serves GET /approvals/{id} and
// POST /approvals/{id}/decide.
func (c *Component) handleApprovalsWithID(w http.ResponseWriter, r *http.Request) {
	id, endpoint := extractIDAndEndpoint(r.URL.Path, "/approvals/")
	if id == "" {
		http.Error(w, "approval id required", http.StatusBadRequest)
		return
	}

	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}

	switch endpoint {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a, err := stack.Approvals.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "approval not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, a)

	case "decide":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, c.config.MaxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		var req decideRequestBody
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		a, err := stack.Approvals.Decide(r.Context(), id, approval.Decision{
			Approve: req.Approve,
			Decider: req.Decider,
			Comment: req.Comment,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, a)

	default:
		http.Error(w, "unknown endpoint", http.StatusNotFound)
	}
}

// extractIDAndEndpoint splits a path like /prefix/threads/{id}/graph into
// ("{id}", "graph") given marker == "/threads/". Mirrors the teacher's
// extractSlugAndEndpoint for /plans/{slug}/{endpoint}.
func extractIDAndEndpoint(path, marker string) (id, endpoint string) {
	idx := strings.Index(path, marker)
	if idx == -1 {
		return "", ""
	}
	remainder := path[idx+len(marker):]
	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	id = parts[0]
	if len(parts) > 1 {
		endpoint = strings.TrimSuffix(parts[1], "/")
	}
	return id, endpoint
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
