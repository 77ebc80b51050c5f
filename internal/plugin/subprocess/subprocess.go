// Package subprocess implements a Plugin Port backend that manages a
// backend executor as an OS subprocess and proxies Infer calls to its
// local HTTP API. It generalizes the teacher's SubprocessBackend (which
// hard-coded llama-server's /completion and /embedding endpoints) into a
// backend-agnostic contract: the executor binary is named by config, is
// expected to expose POST /infer accepting a JSON object {"inputs": [...],
// "params": [...]} (plugin.Input and plugin.Params encoded under their Go
// field names, e.g. "Kind", "Text") and to return a same-length JSON array
// of outputs, and is health-polled on /health before first use.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/turtacn/inferserve/internal/plugin"
)

func init() {
	plugin.Register("http-proxy", func() plugin.Port { return New() })
}

// Backend spawns one executor subprocess per Load call.
type Backend struct {
	// ExecutablePath is the path to the backend executor binary. Defaults
	// to config.Custom["executable"] when unset.
	ExecutablePath string
	StartTimeout   time.Duration
}

func New() *Backend {
	return &Backend{StartTimeout: 30 * time.Second}
}

type handle struct {
	mu            sync.Mutex
	cmd           *exec.Cmd
	addr          string
	client        *http.Client
	maxBatch      int
	supportsBatch bool
	closed        bool
}

func (h *handle) SupportsBatching() bool { return h.supportsBatch }
func (h *handle) MaxBatchSize() int      { return h.maxBatch }

func (b *Backend) Load(ctx context.Context, modelID string, cfg plugin.Config) (plugin.Handle, error) {
	exePath := b.ExecutablePath
	if exePath == "" {
		if v, ok := cfg.Custom["executable"].(string); ok {
			exePath = v
		}
	}
	if exePath == "" {
		return nil, fmt.Errorf("subprocess plugin: no executable configured for model %q", modelID)
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("find free port: %w", err)
	}
	addr := fmt.Sprintf("http://127.0.0.1:%d", port)

	args := []string{
		"--model-id", modelID,
		"--port", strconv.Itoa(port),
		"--device", cfg.DeviceType,
	}
	if cfg.Quantization != "" {
		args = append(args, "--quantization", cfg.Quantization)
	}

	cmd := exec.CommandContext(ctx, exePath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start executor: %w", err)
	}

	h := &handle{
		cmd:           cmd,
		addr:          addr,
		client:        &http.Client{Timeout: 2 * time.Minute},
		maxBatch:      32,
		supportsBatch: true,
	}

	if err := waitHealthy(ctx, h.client, addr, b.StartTimeout); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("executor did not become healthy: %w", err)
	}

	return h, nil
}

func (b *Backend) Unload(ctx context.Context, ph plugin.Handle) error {
	h, ok := ph.(*handle)
	if !ok {
		return fmt.Errorf("subprocess plugin: foreign handle type")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil // idempotent
	}
	h.closed = true
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	return nil
}

func (b *Backend) Infer(ctx context.Context, ph plugin.Handle, inputs []plugin.Input, params []plugin.Params) ([]plugin.Output, error) {
	h, ok := ph.(*handle)
	if !ok {
		return nil, fmt.Errorf("subprocess plugin: foreign handle type")
	}
	h.mu.Lock()
	closed := h.closed
	addr := h.addr
	client := h.client
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("subprocess plugin: handle already unloaded")
	}

	reqBody, err := json.Marshal(struct {
		Inputs []plugin.Input  `json:"inputs"`
		Params []plugin.Params `json:"params"`
	}{Inputs: inputs, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal infer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/infer", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	var outputs []plugin.Output
	if err := json.NewDecoder(resp.Body).Decode(&outputs); err != nil {
		return nil, fmt.Errorf("decode infer response: %w", err)
	}
	if len(outputs) != len(inputs) {
		return nil, fmt.Errorf("executor returned %d outputs for %d inputs", len(outputs), len(inputs))
	}
	return outputs, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitHealthy(ctx context.Context, client *http.Client, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("timed out after %s waiting for executor at %s", timeout, addr)
}
