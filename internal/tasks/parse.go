package tasks

import (
	stderrors "errors"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Parse extracts and classifies without executing anything. Extraction
// failures are reported inside the result, never as an error.
func Parse(text string) *protocol.ParseResult {
	ex, err := Extract(text)
	if err != nil {
		failure := FailureFor(text, err)
		result := &protocol.ParseResult{
			Success:     false,
			UserMessage: failure.UserMessage,
			Error:       failure.Error,
		}
		if failure.Reason != "" {
			result.Error += ": " + failure.Reason
		}
		return result
	}

	tasks := make([]string, len(ex.Bundle.Tasks))
	copy(tasks, ex.Bundle.Tasks)

	return &protocol.ParseResult{
		Success:     true,
		Tasks:       tasks,
		Summary:     Summary(ex.Bundle),
		Categories:  Classify(ex.Bundle.Tasks).Assignments(),
		TaskCount:   len(tasks),
		UserMessage: ex.UserMessage,
	}
}

// FailureFor converts an extraction error into the ExtractionFailure record
func FailureFor(text string, err error) *protocol.ExtractionFailure {
	failure := &protocol.ExtractionFailure{
		Error:       protocol.NoTaskBlockError,
		UserMessage: UserMessage(text),
	}
	var diagErr *diagerrors.DiagError
	if stderrors.As(err, &diagErr) && diagErr.Code != protocol.ErrorCodeNoTaskBlock {
		failure.Reason = diagErr.Message
	}
	return failure
}
