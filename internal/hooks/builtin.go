package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/exec"
)

// ScriptHook runs a shell command. The event is passed in the environment
// as TASKFORGE_EVENT_TYPE, TASKFORGE_EVENT_SUBJECT and TASKFORGE_EVENT (JSON).
type ScriptHook struct {
	name    string
	command string
	workDir string
}

// NewScriptHook creates a script hook running in workDir
func NewScriptHook(cfg Config, workDir string) (Hook, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("script hook %s needs a command", cfg.Name)
	}
	return &ScriptHook{name: cfg.Name, command: cfg.Command, workDir: workDir}, nil
}

func (h *ScriptHook) Name() string { return h.name }

func (h *ScriptHook) Execute(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res, err := exec.RunShell(ctx, exec.Step{
		ID:      e.GetString("task_id"),
		PlanID:  e.GetString("plan_id"),
		Command: h.command,
		Workdir: h.workDir,
		Env: map[string]string{
			"TASKFORGE_EVENT_TYPE":    string(e.Type),
			"TASKFORGE_EVENT_SUBJECT": e.Subject,
			"TASKFORGE_EVENT":         string(payload),
		},
	})
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("hook command exited with %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	return nil
}

// WebhookHook posts the event as JSON
type WebhookHook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookHook creates a webhook hook
func NewWebhookHook(cfg Config) (Hook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook hook %s needs a url", cfg.Name)
	}
	return &WebhookHook{
		name:    cfg.Name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{},
	}, nil
}

func (h *WebhookHook) Name() string { return h.name }

func (h *WebhookHook) Execute(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskforge-Event", string(e.Type))
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
