package ensemble

import (
	"fmt"
	"strings"
	"sync"
)

// ColumnCandidates defines possible header names for auto-detecting CSV/TSV columns.
// Truth entries are patterns where %s stands for the task name.
type ColumnCandidates struct {
	ID          []string `json:"id"`
	Title       []string `json:"title"`
	Description []string `json:"description"`
	Truth       []string `json:"truth"`
	Label       []string `json:"label"`
}

var (
	columnCandidatesMu  sync.RWMutex
	activeColumnOptions = defaultColumnCandidates()
)

func defaultColumnCandidates() ColumnCandidates {
	return ColumnCandidates{
		ID:          []string{"sample_id", "id", "index", "person_id", "no"},
		Title:       []string{"title", "position", "job_title"},
		Description: []string{"description", "summary", "text"},
		Truth:       []string{"%s_truth", "true_%s", "%s_label", "%s"},
		Label:       []string{"label", "category", "class"},
	}
}

// DefaultColumnCandidates returns the built-in column detection candidates.
func DefaultColumnCandidates() ColumnCandidates {
	return defaultColumnCandidates().clone()
}

// SetColumnCandidates updates the column detection candidates used during auto-detection.
// Fields left nil fall back to the built-in defaults.
func SetColumnCandidates(candidates ColumnCandidates) {
	columnCandidatesMu.Lock()
	defer columnCandidatesMu.Unlock()
	activeColumnOptions = candidates.withDefaults()
}

func getColumnCandidates() ColumnCandidates {
	columnCandidatesMu.RLock()
	defer columnCandidatesMu.RUnlock()
	return activeColumnOptions.clone()
}

func candidatesOrActive(c *ColumnCandidates) ColumnCandidates {
	if c != nil {
		return c.withDefaults()
	}
	return getColumnCandidates()
}

func (c ColumnCandidates) truthFor(task string) []string {
	out := make([]string, 0, len(c.Truth))
	for _, pattern := range c.Truth {
		if strings.Contains(pattern, "%s") {
			out = append(out, fmt.Sprintf(pattern, task))
			continue
		}
		out = append(out, pattern)
	}
	return out
}

func (c ColumnCandidates) withDefaults() ColumnCandidates {
	defaults := defaultColumnCandidates()
	return ColumnCandidates{
		ID:          pickStrings(c.ID, defaults.ID),
		Title:       pickStrings(c.Title, defaults.Title),
		Description: pickStrings(c.Description, defaults.Description),
		Truth:       pickStrings(c.Truth, defaults.Truth),
		Label:       pickStrings(c.Label, defaults.Label),
	}
}

func (c ColumnCandidates) clone() ColumnCandidates {
	return ColumnCandidates{
		ID:          cloneStrings(c.ID),
		Title:       cloneStrings(c.Title),
		Description: cloneStrings(c.Description),
		Truth:       cloneStrings(c.Truth),
		Label:       cloneStrings(c.Label),
	}
}

func pickStrings(custom, fallback []string) []string {
	if custom == nil {
		return cloneStrings(fallback)
	}
	return cloneStrings(custom)
}
