package protocol

import "time"

// Category is a diagnostic category a task can be classified into
type Category string

const (
	CategoryThermal     Category = "thermal"
	CategoryDisk        Category = "disk"
	CategoryEventLog    Category = "event_log"
	CategorySystemFiles Category = "system_files"
	CategoryPower       Category = "power"
	CategoryNetwork     Category = "network"
	CategoryMemory      Category = "memory"
	CategoryGPU         Category = "gpu"
	CategoryGeneral     Category = "general"
)

// AllCategories lists every category in classification table order
var AllCategories = []Category{
	CategoryThermal,
	CategoryDisk,
	CategoryEventLog,
	CategorySystemFiles,
	CategoryPower,
	CategoryNetwork,
	CategoryMemory,
	CategoryGPU,
	CategoryGeneral,
}

// IsValid reports whether c is one of the known categories
func (c Category) IsValid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity is the outcome of a severity ladder
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so the worst can be picked. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// ExecutionMode names how a run was executed
type ExecutionMode string

const (
	ModeDirect    ExecutionMode = "direct"
	ModeDelegated ExecutionMode = "delegated"
)

// TaskBundle is the validated content of a task block.
// It is built once per successful extraction and must not be modified.
type TaskBundle struct {
	Tasks   []string `json:"tasks" yaml:"tasks"`
	Summary string   `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// CapabilityResult is the normalized record produced by a capability invocation
type CapabilityResult struct {
	Success        bool                   `json:"success" yaml:"success"`
	Task           string                 `json:"task,omitempty" yaml:"task,omitempty"`
	Category       Category               `json:"category,omitempty" yaml:"category,omitempty"`
	Capability     string                 `json:"capability,omitempty" yaml:"capability,omitempty"`
	Analysis       string                 `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Severity       Severity               `json:"severity,omitempty" yaml:"severity,omitempty"`
	Error          string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Recommendation string                 `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	RawData        map[string]interface{} `json:"raw_data,omitempty" yaml:"raw_data,omitempty"`
}

// ExecutionReport is the outcome of one orchestration run.
//
// TasksCompleted + TasksFailed == len(Results) and len(Results) == TasksRequested.
type ExecutionReport struct {
	RunID              string             `json:"run_id" yaml:"run_id"`
	Mode               ExecutionMode      `json:"mode" yaml:"mode"`
	FallbackReason     string             `json:"fallback_reason,omitempty" yaml:"fallback_reason,omitempty"`
	TasksRequested     int                `json:"tasks_requested" yaml:"tasks_requested"`
	TasksCompleted     int                `json:"tasks_completed" yaml:"tasks_completed"`
	TasksFailed        int                `json:"tasks_failed" yaml:"tasks_failed"`
	Results            []CapabilityResult `json:"results" yaml:"results"`
	Summary            string             `json:"summary" yaml:"summary"`
	UserMessage        string             `json:"user_message" yaml:"user_message"`
	ExecutionSummary   string             `json:"execution_summary" yaml:"execution_summary"`
	SeverityCounts     map[Severity]int   `json:"severity_counts" yaml:"severity_counts"`
	ExecutionTimestamp time.Time          `json:"execution_timestamp" yaml:"execution_timestamp"`
}

// ExtractionFailure is returned instead of a report when no usable task block exists
type ExtractionFailure struct {
	Error       string `json:"error" yaml:"error"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
	UserMessage string `json:"user_message" yaml:"user_message"`
}

// NoTaskBlockError is the fixed error text of an ExtractionFailure
const NoTaskBlockError = "no task block found"
