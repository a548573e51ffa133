package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "agentflow.yaml")
	content := "checkpoint:\n  backend: file\n  root: " + filepath.Join(dir, "threads") +
		"\nagents:\n  - id: worker-1\n    name: worker\n    role: worker\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeTestWorkflow(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "steps.json")
	content := `[{"id":"a","type":"mock","role":"worker","task":"say hi"}]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	return path
}

func TestInvokeCmd_RunsMockWorkflowToCompletion(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	workflowPath := writeTestWorkflow(t, dir)

	root := &cobra.Command{Use: "agentflow"}
	root.AddCommand(newInvokeCmd(&configPath))
	root.SetArgs([]string{"invoke", workflowPath, "--project", "proj-1"})

	stdout := captureStdout(t, func() {
		if err := root.Execute(); err != nil {
			t.Fatalf("invoke: %v", err)
		}
	})

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("unmarshal result: %v, output: %s", err, stdout)
	}
	if result["Status"] != "completed" {
		t.Errorf("expected status completed, got %v", result["Status"])
	}
}

func TestThreadsListCmd_ReturnsEmptyBeforeAnyInvoke(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	cmd := newThreadsListCmd(&configPath)
	stdout := captureStdout(t, func() {
		if err := cmd.Execute(); err != nil {
			t.Fatalf("threads list: %v", err)
		}
	})

	var summaries []any
	if err := json.Unmarshal([]byte(stdout), &summaries); err != nil {
		t.Fatalf("unmarshal summaries: %v, output: %s", err, stdout)
	}
	if len(summaries) != 0 {
		t.Errorf("expected no threads, got %d", len(summaries))
	}
}

// captureStdout redirects os.Stdout for the duration of fn, since printJSON
// writes directly to os.Stdout rather than a cobra-injected writer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}
