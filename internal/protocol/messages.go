package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client to server
	MessageTypeExecute MessageType = "execute"
	MessageTypeParse   MessageType = "parse"

	// Server to client
	MessageTypeAck              MessageType = "ack"
	MessageTypeProgress         MessageType = "progress"
	MessageTypeReport           MessageType = "report"
	MessageTypeParsed           MessageType = "parsed"
	MessageTypeExtractionFailed MessageType = "extraction_failed"
	MessageTypeError            MessageType = "error"
)

// IsTerminal reports whether no further messages follow this one for a request
func (t MessageType) IsTerminal() bool {
	switch t {
	case MessageTypeReport, MessageTypeParsed, MessageTypeExtractionFailed, MessageTypeError:
		return true
	}
	return false
}

// BaseMessage contains common fields for all message types
type BaseMessage struct {
	Type      MessageType `json:"type" validate:"required"`
	RequestID string      `json:"request_id" validate:"required"`
}

// ExecuteMessage asks the server to run the task pipeline on model output
type ExecuteMessage struct {
	BaseMessage
	ModelOutput  string `json:"model_output" validate:"required"`
	UseDelegated bool   `json:"use_delegated,omitempty"`
}

// ParseMessage asks the server to extract and classify tasks without executing them
type ParseMessage struct {
	BaseMessage
	ModelOutput string `json:"model_output" validate:"required"`
}

// AckMessage acknowledges a request
type AckMessage struct {
	BaseMessage
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ProgressMessage carries one result as soon as it is produced
type ProgressMessage struct {
	BaseMessage
	Index     int              `json:"index"`
	Total     int              `json:"total"`
	Result    CapabilityResult `json:"result"`
	Timestamp time.Time        `json:"timestamp"`
}

// ReportMessage carries the final execution report
type ReportMessage struct {
	BaseMessage
	Report *ExecutionReport `json:"report" validate:"required"`
}

// ParsedMessage carries the outcome of a parse request
type ParsedMessage struct {
	BaseMessage
	Parse *ParseResult `json:"parse" validate:"required"`
}

// ExtractionFailedMessage reports that no usable task block was found
type ExtractionFailedMessage struct {
	BaseMessage
	Failure *ExtractionFailure `json:"failure" validate:"required"`
}

// ErrorMessage represents an error in communication
type ErrorMessage struct {
	BaseMessage
	ErrorCode string                 `json:"error_code" validate:"required"`
	Message   string                 `json:"message" validate:"required"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ParseResult is the outcome of extraction plus classification
type ParseResult struct {
	Success     bool                 `json:"success" yaml:"success"`
	Tasks       []string             `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Summary     string               `json:"summary,omitempty" yaml:"summary,omitempty"`
	Categories  []CategoryAssignment `json:"categories,omitempty" yaml:"categories,omitempty"`
	TaskCount   int                  `json:"task_count" yaml:"task_count"`
	UserMessage string               `json:"user_message" yaml:"user_message"`
	Error       string               `json:"error,omitempty" yaml:"error,omitempty"`
}

// CategoryAssignment is one ordered classifier bucket
type CategoryAssignment struct {
	Category Category `json:"category" yaml:"category"`
	Tasks    []string `json:"tasks" yaml:"tasks"`
}

// ParseMessageBytes parses a raw JSON message into the appropriate struct
func ParseMessageBytes(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to parse base message: %w", err)
	}

	var msg interface{}
	switch base.Type {
	case MessageTypeExecute:
		msg = &ExecuteMessage{}
	case MessageTypeParse:
		msg = &ParseMessage{}
	case MessageTypeAck:
		msg = &AckMessage{}
	case MessageTypeProgress:
		msg = &ProgressMessage{}
	case MessageTypeReport:
		msg = &ReportMessage{}
	case MessageTypeParsed:
		msg = &ParsedMessage{}
	case MessageTypeExtractionFailed:
		msg = &ExtractionFailedMessage{}
	case MessageTypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", base.Type, err)
	}
	return msg, nil
}

// SerializeMessage serializes a message struct to JSON
func SerializeMessage(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// ValidateMessage performs basic validation on a message
func ValidateMessage(msg interface{}) error {
	switch m := msg.(type) {
	case *ExecuteMessage:
		if m.Type != MessageTypeExecute {
			return fmt.Errorf("invalid message type for ExecuteMessage")
		}
		if m.RequestID == "" {
			return fmt.Errorf("request_id is required")
		}
		if m.ModelOutput == "" {
			return fmt.Errorf("model_output is required")
		}

	case *ParseMessage:
		if m.Type != MessageTypeParse {
			return fmt.Errorf("invalid message type for ParseMessage")
		}
		if m.RequestID == "" {
			return fmt.Errorf("request_id is required")
		}
		if m.ModelOutput == "" {
			return fmt.Errorf("model_output is required")
		}

	case *AckMessage:
		if m.Type != MessageTypeAck {
			return fmt.Errorf("invalid message type for AckMessage")
		}

	case *ProgressMessage:
		if m.Type != MessageTypeProgress {
			return fmt.Errorf("invalid message type for ProgressMessage")
		}
		if m.Index < 0 || m.Index >= m.Total {
			return fmt.Errorf("progress index %d out of range [0,%d)", m.Index, m.Total)
		}

	case *ReportMessage:
		if m.Type != MessageTypeReport {
			return fmt.Errorf("invalid message type for ReportMessage")
		}
		if m.Report == nil {
			return fmt.Errorf("report is required")
		}

	case *ParsedMessage:
		if m.Type != MessageTypeParsed {
			return fmt.Errorf("invalid message type for ParsedMessage")
		}
		if m.Parse == nil {
			return fmt.Errorf("parse is required")
		}

	case *ExtractionFailedMessage:
		if m.Type != MessageTypeExtractionFailed {
			return fmt.Errorf("invalid message type for ExtractionFailedMessage")
		}
		if m.Failure == nil {
			return fmt.Errorf("failure is required")
		}

	case *ErrorMessage:
		if m.Type != MessageTypeError {
			return fmt.Errorf("invalid message type for ErrorMessage")
		}
		if m.ErrorCode == "" {
			return fmt.Errorf("error_code is required")
		}
		if m.Message == "" {
			return fmt.Errorf("message is required")
		}

	default:
		return fmt.Errorf("unknown message type for validation")
	}

	return nil
}

// Common error codes
const (
	ErrorCodeInvalidMessage     = "INVALID_MESSAGE"
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"
	ErrorCodeNoTaskBlock        = "NO_TASK_BLOCK"
	ErrorCodeMalformedTaskBlock = "MALFORMED_TASK_BLOCK"
	ErrorCodeInvalidTaskBlock   = "INVALID_TASK_BLOCK"
	ErrorCodeCapabilityFailed   = "CAPABILITY_FAILED"
	ErrorCodeUnknownCapability  = "UNKNOWN_CAPABILITY"
	ErrorCodeUnsupported        = "UNSUPPORTED_PLATFORM"
	ErrorCodeDelegationFailed   = "DELEGATION_FAILED"
	ErrorCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrorCodePermissionDenied   = "PERMISSION_DENIED"
	ErrorCodeConnectionLost     = "CONNECTION_LOST"
	ErrorCodeTimeout            = "TIMEOUT"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeRunNotFound        = "RUN_NOT_FOUND"
)

// Helper functions to create common messages

// NewExecuteMessage creates a new execute request
func NewExecuteMessage(requestID, modelOutput string, useDelegated bool) *ExecuteMessage {
	return &ExecuteMessage{
		BaseMessage:  BaseMessage{Type: MessageTypeExecute, RequestID: requestID},
		ModelOutput:  modelOutput,
		UseDelegated: useDelegated,
	}
}

// NewParseMessage creates a new parse request
func NewParseMessage(requestID, modelOutput string) *ParseMessage {
	return &ParseMessage{
		BaseMessage: BaseMessage{Type: MessageTypeParse, RequestID: requestID},
		ModelOutput: modelOutput,
	}
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(requestID string, success bool, message string) *AckMessage {
	return &AckMessage{
		BaseMessage: BaseMessage{Type: MessageTypeAck, RequestID: requestID},
		Success:     success,
		Message:     message,
	}
}

// NewProgressMessage creates a progress message for one result
func NewProgressMessage(requestID string, index, total int, result CapabilityResult) *ProgressMessage {
	return &ProgressMessage{
		BaseMessage: BaseMessage{Type: MessageTypeProgress, RequestID: requestID},
		Index:       index,
		Total:       total,
		Result:      result,
		Timestamp:   time.Now(),
	}
}

// NewReportMessage creates a final report message
func NewReportMessage(requestID string, report *ExecutionReport) *ReportMessage {
	return &ReportMessage{
		BaseMessage: BaseMessage{Type: MessageTypeReport, RequestID: requestID},
		Report:      report,
	}
}

// NewParsedMessage creates a parse outcome message
func NewParsedMessage(requestID string, parse *ParseResult) *ParsedMessage {
	return &ParsedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeParsed, RequestID: requestID},
		Parse:       parse,
	}
}

// NewExtractionFailedMessage creates an extraction failure message
func NewExtractionFailedMessage(requestID string, failure *ExtractionFailure) *ExtractionFailedMessage {
	return &ExtractionFailedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeExtractionFailed, RequestID: requestID},
		Failure:     failure,
	}
}

// NewErrorMessage creates a new error message
func NewErrorMessage(requestID, errorCode, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, RequestID: requestID},
		ErrorCode:   errorCode,
		Message:     message,
		Details:     make(map[string]interface{}),
	}
}
