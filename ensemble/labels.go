package ensemble

import (
	"fmt"
	"strings"
)

// LabelSpace is the fixed, ordered set of classes for one classification task.
// The zero value is an empty space; build one with NewLabelSpace.
type LabelSpace struct {
	task   string
	labels []string
	index  map[string]int
}

// NewLabelSpace builds an immutable label space. Labels are compared by their
// normalized key, so duplicates after normalization are rejected.
func NewLabelSpace(task string, labels []string) (LabelSpace, error) {
	if len(labels) == 0 {
		return LabelSpace{}, fmt.Errorf("%w: task %q has an empty label space", ErrInvalidConfig, task)
	}
	space := LabelSpace{
		task:   strings.TrimSpace(task),
		labels: make([]string, 0, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for _, raw := range labels {
		display := NormalizeText(raw)
		if display == "" {
			return LabelSpace{}, fmt.Errorf("%w: task %q has a blank label", ErrInvalidConfig, task)
		}
		key := strings.ToLower(display)
		if _, dup := space.index[key]; dup {
			return LabelSpace{}, fmt.Errorf("%w: task %q lists label %q twice", ErrInvalidConfig, task, display)
		}
		space.index[key] = len(space.labels)
		space.labels = append(space.labels, display)
	}
	return space, nil
}

// Task returns the task name the space belongs to.
func (s LabelSpace) Task() string { return s.task }

// Len returns the number of classes.
func (s LabelSpace) Len() int { return len(s.labels) }

// Labels returns a copy of the canonical ordering.
func (s LabelSpace) Labels() []string { return cloneStrings(s.labels) }

// Label returns the class name at index i.
func (s LabelSpace) Label(i int) string {
	if i < 0 || i >= len(s.labels) {
		return ""
	}
	return s.labels[i]
}

// Index looks a label up by its normalized key.
func (s LabelSpace) Index(label string) (int, bool) {
	i, ok := s.index[NormalizeKey(label)]
	return i, ok
}

// Matches reports whether labels name exactly the canonical classes in canonical order.
func (s LabelSpace) Matches(labels []string) bool {
	if len(labels) != len(s.labels) {
		return false
	}
	for i, l := range labels {
		if j, ok := s.Index(l); !ok || j != i {
			return false
		}
	}
	return true
}

// OneHot converts a hard label into a distribution over the space.
func (s LabelSpace) OneHot(label string) ([]float64, bool) {
	i, ok := s.Index(label)
	if !ok {
		return nil, false
	}
	vec := make([]float64, len(s.labels))
	vec[i] = 1
	return vec, true
}

// LabelMerger rewrites labels before lookup, e.g. folding rare seniority tiers
// into a neighbouring class.
type LabelMerger map[string]string

// NewLabelMerger normalizes both sides of the mapping.
func NewLabelMerger(raw map[string]string) LabelMerger {
	if len(raw) == 0 {
		return nil
	}
	m := make(LabelMerger, len(raw))
	for from, to := range raw {
		key := NormalizeKey(from)
		if key == "" {
			continue
		}
		m[key] = NormalizeText(to)
	}
	return m
}

// Apply returns the merged label, or the input when no rule applies.
func (m LabelMerger) Apply(label string) string {
	if len(m) == 0 {
		return label
	}
	if to, ok := m[NormalizeKey(label)]; ok {
		return to
	}
	return label
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
