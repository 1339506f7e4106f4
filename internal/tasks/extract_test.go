package tasks

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

func TestExtractValidBlock(t *testing.T) {
	text := `Your CPU may be overheating. I'll run some checks.

<MCP_TASKS>
{"tasks": ["Check CPU thermal", "Inspect disk usage"], "summary": "Thermal and disk check"}
</MCP_TASKS>

Trailing text.`

	ex, err := Extract(text)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := protocol.TaskBundle{
		Tasks:   []string{"Check CPU thermal", "Inspect disk usage"},
		Summary: "Thermal and disk check",
	}
	if diff := cmp.Diff(want, ex.Bundle); diff != "" {
		t.Errorf("Bundle mismatch (-want +got):\n%s", diff)
	}

	if ex.UserMessage != "Your CPU may be overheating. I'll run some checks." {
		t.Errorf("Unexpected user message: %q", ex.UserMessage)
	}
}

func TestExtractCaseInsensitiveTags(t *testing.T) {
	ex, err := Extract(`<mcp_tasks>{"tasks":["Check memory"]}</Mcp_Tasks>`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ex.Bundle.Tasks) != 1 || ex.Bundle.Tasks[0] != "Check memory" {
		t.Errorf("Unexpected tasks: %v", ex.Bundle.Tasks)
	}
	if ex.Bundle.Summary != "" {
		t.Errorf("Expected empty summary, got %q", ex.Bundle.Summary)
	}
	if Summary(ex.Bundle) != DefaultSummary {
		t.Errorf("Expected default summary, got %q", Summary(ex.Bundle))
	}
}

func TestExtractFirstBlockWins(t *testing.T) {
	text := `intro <MCP_TASKS>{"tasks":["first"]}</MCP_TASKS> middle <MCP_TASKS>{"tasks":["second"]}</MCP_TASKS>`

	ex, err := Extract(text)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if diff := cmp.Diff([]string{"first"}, ex.Bundle.Tasks); diff != "" {
		t.Errorf("Tasks mismatch (-want +got):\n%s", diff)
	}
	if ex.UserMessage != "intro" {
		t.Errorf("Expected user message 'intro', got %q", ex.UserMessage)
	}
}

func TestExtractDuplicatesPreserved(t *testing.T) {
	ex, err := Extract(`<MCP_TASKS>{"tasks":["Check disk","Check disk"]}</MCP_TASKS>`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ex.Bundle.Tasks) != 2 {
		t.Errorf("Expected duplicates to be kept, got %v", ex.Bundle.Tasks)
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{"no_block", "Just some advice, no tasks.", protocol.ErrorCodeNoTaskBlock},
		{"unclosed_block", `<MCP_TASKS>{"tasks":["a"]}`, protocol.ErrorCodeNoTaskBlock},
		{"malformed_json", `<MCP_TASKS>{"tasks": ["a",}</MCP_TASKS>`, protocol.ErrorCodeMalformedTaskBlock},
		{"not_an_object", `<MCP_TASKS>["a","b"]</MCP_TASKS>`, protocol.ErrorCodeMalformedTaskBlock},
		{"empty_block", `<MCP_TASKS>   </MCP_TASKS>`, protocol.ErrorCodeMalformedTaskBlock},
		{"missing_tasks", `<MCP_TASKS>{"summary":"x"}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"tasks_not_list", `<MCP_TASKS>{"tasks":"Check disk"}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"tasks_empty", `<MCP_TASKS>{"tasks":[]}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"tasks_null", `<MCP_TASKS>{"tasks":null}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"non_string_task", `<MCP_TASKS>{"tasks":["ok", 42]}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"null_task", `<MCP_TASKS>{"tasks":[null]}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"blank_task", `<MCP_TASKS>{"tasks":["   "]}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
		{"non_string_summary", `<MCP_TASKS>{"tasks":["a"],"summary":5}</MCP_TASKS>`, protocol.ErrorCodeInvalidTaskBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := Extract(tt.text)
			if err == nil {
				t.Fatalf("Expected error, got bundle %+v", ex.Bundle)
			}
			if ex != nil {
				t.Error("Expected nil extraction on failure")
			}
			if !diagerrors.IsType(err, diagerrors.ErrorTypeExtraction) {
				t.Errorf("Expected extraction error, got %v", err)
			}
			if code := diagerrors.GetCode(err); code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"  plain advice  \n", "plain advice"},
		{"Before\n<MCP_TASKS>{broken", "Before"},
		{"Before <mcp_tasks>{}</mcp_tasks> after", "Before"},
		{"<MCP_TASKS>{}</MCP_TASKS>", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := UserMessage(tt.text); got != tt.want {
			t.Errorf("UserMessage(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	result := Parse(`Hello <MCP_TASKS>{"tasks":["Check CPU temperature","Check battery power"]}</MCP_TASKS>`)

	want := &protocol.ParseResult{
		Success: true,
		Tasks:   []string{"Check CPU temperature", "Check battery power"},
		Summary: DefaultSummary,
		Categories: []protocol.CategoryAssignment{
			{Category: protocol.CategoryThermal, Tasks: []string{"Check CPU temperature"}},
			{Category: protocol.CategoryPower, Tasks: []string{"Check battery power"}},
		},
		TaskCount:   2,
		UserMessage: "Hello",
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFailure(t *testing.T) {
	result := Parse(`Advice only <MCP_TASKS>{"tasks":[]}</MCP_TASKS>`)

	if result.Success {
		t.Fatal("Expected failed parse")
	}
	if result.UserMessage != "Advice only" {
		t.Errorf("Unexpected user message: %q", result.UserMessage)
	}
	if result.Error != "no task block found: tasks list is empty" {
		t.Errorf("Unexpected error: %q", result.Error)
	}

	failure := FailureFor("no block here", noBlockError())
	if failure.Error != protocol.NoTaskBlockError || failure.Reason != "" {
		t.Errorf("Unexpected failure record: %+v", failure)
	}
}

func noBlockError() error {
	_, err := Extract("nothing")
	return err
}

func FuzzExtract(f *testing.F) {
	f.Add(`<MCP_TASKS>{"tasks":["a"]}</MCP_TASKS>`)
	f.Add(`<MCP_TASKS>{"tasks":[1]}</MCP_TASKS>`)
	f.Add(`random text`)

	f.Fuzz(func(t *testing.T, text string) {
		ex, err := Extract(text)
		if err == nil {
			if len(ex.Bundle.Tasks) == 0 {
				t.Errorf("Successful extraction must have tasks")
			}
			return
		}
		if !diagerrors.IsType(err, diagerrors.ErrorTypeExtraction) {
			t.Errorf("Unexpected error type: %v", err)
		}
	})
}
