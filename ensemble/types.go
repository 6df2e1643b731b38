package ensemble

import (
	"path/filepath"
	"strings"
)

// DefaultTolerance is the epsilon used for distribution sums and tie checks.
const DefaultTolerance = 1e-6

// Default task names.
const (
	TaskDepartment = "department"
	TaskSeniority  = "seniority"
)

// Prediction is one model's output for one sample. Soft predictions fill
// Probs (and Labels when the producer states its own ordering); hard
// predictions fill Label only.
type Prediction struct {
	Labels []string  `json:"labels,omitempty"`
	Probs  []float64 `json:"probs,omitempty"`
	Label  string    `json:"label,omitempty"`
}

// IsHard reports whether the prediction carries a label instead of a distribution.
func (p Prediction) IsHard() bool {
	return len(p.Probs) == 0 && p.Label != ""
}

// Sample holds every model prediction for one record within one task.
type Sample struct {
	ID          string                `json:"id"`
	Truth       string                `json:"truth,omitempty"`
	Predictions map[string]Prediction `json:"predictions"`
}

// Result is the aggregated outcome for one sample.
type Result struct {
	SampleID   string    `json:"sampleId"`
	Label      string    `json:"label"`
	LabelIndex int       `json:"labelIndex"`
	Scores     []float64 `json:"scores"`
	Truth      string    `json:"truth,omitempty"`
	// Absent lists optional models that had no prediction for the sample.
	Absent []string `json:"absent,omitempty"`
}

// Config holds the aggregation options for one task. A nil Tolerance means
// DefaultTolerance; an explicit 0 asks for exact comparison.
type Config struct {
	Weights        map[string]float64 `json:"weights,omitempty"`
	OptionalModels []string           `json:"optionalModels,omitempty"`
	Tolerance      *float64           `json:"tolerance,omitempty"`
}

// ApplyDefaults populates unset values.
func (c *Config) ApplyDefaults() {
	if c.Tolerance == nil {
		c.Tolerance = Tolerance(DefaultTolerance)
	}
}

// Tolerance returns a pointer for Config.Tolerance.
func Tolerance(v float64) *float64 {
	return &v
}

func (c Config) clone() Config {
	out := Config{OptionalModels: cloneStrings(c.OptionalModels)}
	if c.Weights != nil {
		out.Weights = make(map[string]float64, len(c.Weights))
		for k, v := range c.Weights {
			out.Weights[k] = v
		}
	}
	if c.Tolerance != nil {
		out.Tolerance = Tolerance(*c.Tolerance)
	}
	return out
}

// TaskConfig describes one classification task and its ensemble settings.
type TaskConfig struct {
	Name        string            `json:"name"`
	Labels      []string          `json:"labels,omitempty"`
	LabelsPath  string            `json:"labelsPath,omitempty"`
	LabelColumn string            `json:"labelColumn,omitempty"`
	MergeLabels map[string]string `json:"mergeLabels,omitempty"`
	Ensemble    Config            `json:"ensemble"`
}

func (t TaskConfig) clone() TaskConfig {
	out := t
	out.Labels = cloneStrings(t.Labels)
	if t.MergeLabels != nil {
		out.MergeLabels = make(map[string]string, len(t.MergeLabels))
		for k, v := range t.MergeLabels {
			out.MergeLabels[k] = v
		}
	}
	out.Ensemble = t.Ensemble.clone()
	return out
}

// FileConfig aggregates runtime settings persisted to config.json.
type FileConfig struct {
	Tasks         []TaskConfig      `json:"tasks"`
	IncludeScores bool              `json:"includeScores"`
	IDColumn      string            `json:"idColumn,omitempty"`
	Columns       *ColumnCandidates `json:"columns,omitempty"`

	// baseDir is the directory relative labelsPath entries are resolved against.
	baseDir string
}

// Clone creates a deep copy of the configuration so callers can mutate safely.
func (c FileConfig) Clone() FileConfig {
	out := c
	if c.Tasks != nil {
		out.Tasks = make([]TaskConfig, len(c.Tasks))
		for i, t := range c.Tasks {
			out.Tasks[i] = t.clone()
		}
	}
	if c.Columns != nil {
		cols := c.Columns.clone()
		out.Columns = &cols
	}
	return out
}

// BaseDir returns the directory relative label files are resolved against.
// It is the config file's directory for loaded configs and empty otherwise.
func (c FileConfig) BaseDir() string { return c.baseDir }

// LabelsFile returns the task's label file path resolved against BaseDir.
func (c FileConfig) LabelsFile(t TaskConfig) string {
	p := strings.TrimSpace(t.LabelsPath)
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// ApplyDefaults populates zero values with the department and seniority tasks.
func (c *FileConfig) ApplyDefaults() {
	if len(c.Tasks) == 0 {
		c.Tasks = []TaskConfig{{Name: TaskDepartment}, {Name: TaskSeniority}}
	}
	for i := range c.Tasks {
		c.Tasks[i].Ensemble.ApplyDefaults()
	}
}

// Task returns the configuration for the named task.
func (c FileConfig) Task(name string) (TaskConfig, bool) {
	key := NormalizeKey(name)
	for _, t := range c.Tasks {
		if NormalizeKey(t.Name) == key {
			return t, true
		}
	}
	return TaskConfig{}, false
}
