package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type debugEntry struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Template  string `json:"template"`
	Model     string `json:"model"`
	Params    any    `json:"params"`
	Response  any    `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// writeDebugLog records one provider call as a JSON file under
// <stateDir>/debug. Failures are logged and never affect the call.
func (c *Client) writeDebugLog(method, template string, params, resp any, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug directory", "dir", debugDir, "error", err)
		return
	}

	now := time.Now().UTC()
	entry := debugEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		Method:    method,
		Template:  template,
		Model:     c.model,
		Params:    params,
		Response:  resp,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}

	name := fmt.Sprintf("%s_%s_%d.json", now.Format("20060102T150405"), method, now.UnixNano()%1_000_000_000)
	path := filepath.Join(debugDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to write debug file", "path", path, "error", err)
		return
	}
	slog.Debug("GenAI.writeDebugLog: debug entry written", "path", path)
}
