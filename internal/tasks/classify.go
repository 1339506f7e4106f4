package tasks

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// KeywordTable maps one category to the lower-case keywords that select it.
// A keyword matches where it starts a word, so "ram" matches "ram usage" and
// "rams" but not "program" or "frame".
type KeywordTable struct {
	Category protocol.Category
	Keywords []string
}

// CategoryKeywords is the classification table. Its order is the tie-break
// order when a task matches several categories.
var CategoryKeywords = []KeywordTable{
	{protocol.CategoryThermal, []string{"cpu", "thermal", "temperature", "overheat", "cooling"}},
	{protocol.CategoryDisk, []string{"disk", "storage", "drive", "ssd", "hdd", "partition"}},
	{protocol.CategoryEventLog, []string{"event", "log", "error message", "crash", "blue screen", "bsod"}},
	{protocol.CategorySystemFiles, []string{"system file", "sfc", "corruption", "integrity", "dism"}},
	{protocol.CategoryPower, []string{"power", "battery", "sleep", "hibernation", "energy"}},
	{protocol.CategoryNetwork, []string{"network", "internet", "wifi", "ethernet", "connection"}},
	{protocol.CategoryMemory, []string{"memory", "ram", "virtual memory", "page file"}},
	{protocol.CategoryGPU, []string{"gpu", "graphics", "video", "display", "monitor", "screen"}},
}

// Bucket holds the tasks assigned to one category, in task order
type Bucket struct {
	Category protocol.Category
	Tasks    []string
	// Indices are the positions of Tasks in the classified input
	Indices []int
}

// Classification is the ordered set of non-empty buckets
type Classification []Bucket

// Categorize returns every category task matches, in table order.
// A task that matches nothing is general.
func Categorize(task string) []protocol.Category {
	lower := strings.ToLower(task)

	var categories []protocol.Category
	for _, table := range CategoryKeywords {
		for _, kw := range table.Keywords {
			if containsKeyword(lower, kw) {
				categories = append(categories, table.Category)
				break
			}
		}
	}
	if len(categories) == 0 {
		return []protocol.Category{protocol.CategoryGeneral}
	}
	return categories
}

// containsKeyword reports whether kw occurs in text at the start of a word
func containsKeyword(text, kw string) bool {
	for offset := 0; offset <= len(text)-len(kw); {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		i += offset
		if i == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true
		}
		offset = i + 1
	}
	return false
}

// PrimaryCategory is the first category Categorize assigns to task
func PrimaryCategory(task string) protocol.Category {
	return Categorize(task)[0]
}

// Classify groups tasks by category. A task appears in every bucket it
// matches. Buckets are ordered by first occurrence across tasks and, within
// one task, by table order. Empty buckets are omitted.
func Classify(tasks []string) Classification {
	var out Classification
	position := make(map[protocol.Category]int)

	for i, task := range tasks {
		for _, category := range Categorize(task) {
			idx, ok := position[category]
			if !ok {
				idx = len(out)
				position[category] = idx
				out = append(out, Bucket{Category: category})
			}
			out[idx].Tasks = append(out[idx].Tasks, task)
			out[idx].Indices = append(out[idx].Indices, i)
		}
	}
	return out
}

// Get returns the bucket for category, if present
func (c Classification) Get(category protocol.Category) (Bucket, bool) {
	for _, b := range c {
		if b.Category == category {
			return b, true
		}
	}
	return Bucket{}, false
}

// Categories returns the bucket categories in order
func (c Classification) Categories() []protocol.Category {
	out := make([]protocol.Category, 0, len(c))
	for _, b := range c {
		out = append(out, b.Category)
	}
	return out
}

// Assignments converts the classification to its wire form
func (c Classification) Assignments() []protocol.CategoryAssignment {
	out := make([]protocol.CategoryAssignment, 0, len(c))
	for _, b := range c {
		tasks := make([]string, len(b.Tasks))
		copy(tasks, b.Tasks)
		out = append(out, protocol.CategoryAssignment{Category: b.Category, Tasks: tasks})
	}
	return out
}
