// Package tasks turns free-form model output into classified, routable tasks.
//
// The package is pure: nothing here touches the host, logs or keeps state.
//
//	ex, err := tasks.Extract(modelOutput)
//	if err != nil {
//		// errors.IsType(err, errors.ErrorTypeExtraction)
//	}
//	classification := tasks.Classify(ex.Bundle.Tasks)
//	capability := tasks.SelectCapability(protocol.CategoryThermal, "Check CPU thermal")
package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Tag names of the task block. Matching is case-insensitive.
const (
	OpenTag  = "<MCP_TASKS>"
	CloseTag = "</MCP_TASKS>"
)

// DefaultSummary is used when the task block has no summary
const DefaultSummary = "Execute diagnostic tasks"

var (
	// The first block wins; dot matches newline
	blockPattern   = regexp.MustCompile(`(?is)<MCP_TASKS>\s*(.*?)\s*</MCP_TASKS>`)
	openTagPattern = regexp.MustCompile(`(?i)<MCP_TASKS>`)
)

// Extraction is the result of a successful extraction
type Extraction struct {
	Bundle      protocol.TaskBundle
	UserMessage string
}

// rawBundle keeps fields undecoded so their JSON types can be checked
type rawBundle struct {
	Tasks   json.RawMessage `json:"tasks"`
	Summary json.RawMessage `json:"summary"`
}

// Extract finds the first task block in text and validates it.
// Errors are extraction DiagErrors with codes NO_TASK_BLOCK,
// MALFORMED_TASK_BLOCK or INVALID_TASK_BLOCK.
func Extract(text string) (*Extraction, error) {
	match := blockPattern.FindStringSubmatch(text)
	if match == nil {
		return nil, diagerrors.ExtractionError(protocol.ErrorCodeNoTaskBlock, protocol.NoTaskBlockError, nil)
	}

	bundle, err := decodeBundle(match[1])
	if err != nil {
		return nil, err
	}

	return &Extraction{
		Bundle:      bundle,
		UserMessage: UserMessage(text),
	}, nil
}

func decodeBundle(body string) (protocol.TaskBundle, error) {
	var bundle protocol.TaskBundle

	var raw rawBundle
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return bundle, diagerrors.ExtractionError(protocol.ErrorCodeMalformedTaskBlock,
			"task block is not a valid JSON object", err)
	}

	if isAbsent(raw.Tasks) {
		return bundle, invalid("task block has no tasks field")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw.Tasks, &items); err != nil {
		return bundle, invalid("tasks must be a list")
	}
	if len(items) == 0 {
		return bundle, invalid("tasks list is empty")
	}

	tasks := make([]string, 0, len(items))
	for i, item := range items {
		var task string
		if err := json.Unmarshal(item, &task); err != nil || isNull(item) {
			return bundle, invalid(fmt.Sprintf("task %d is not a string", i+1))
		}
		if strings.TrimSpace(task) == "" {
			return bundle, invalid(fmt.Sprintf("task %d is empty", i+1))
		}
		tasks = append(tasks, task)
	}
	bundle.Tasks = tasks

	if !isAbsent(raw.Summary) {
		if err := json.Unmarshal(raw.Summary, &bundle.Summary); err != nil || isNull(raw.Summary) {
			return protocol.TaskBundle{}, invalid("summary must be a string")
		}
	}

	return bundle, nil
}

// UserMessage returns the user-facing part of text: everything before the
// first opening tag, trimmed. Without a tag the whole text is returned trimmed.
func UserMessage(text string) string {
	loc := openTagPattern.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:loc[0]])
}

// Summary returns the bundle summary or DefaultSummary when it is blank
func Summary(b protocol.TaskBundle) string {
	if strings.TrimSpace(b.Summary) == "" {
		return DefaultSummary
	}
	return b.Summary
}

func invalid(message string) error {
	return diagerrors.ExtractionError(protocol.ErrorCodeInvalidTaskBlock, message, nil)
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
