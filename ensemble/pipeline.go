package ensemble

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline runs one aggregator per task over a shared prediction table.
type Pipeline struct {
	cfg     FileConfig
	columns ColumnCandidates
	tasks   []*taskRunner
	logger  *log.Logger
}

type taskRunner struct {
	cfg TaskConfig
	agg *Aggregator
}

// TaskOutput holds the aggregated results of one task.
type TaskOutput struct {
	Task      string
	Space     LabelSpace
	Models    []string
	Results   []Result
	validated *Validated
}

// Output is the result of one pipeline run.
type Output struct {
	RunID     string
	CreatedAt time.Time
	Tasks     []TaskOutput
	Records   []Record
}

// NewPipeline resolves every task's label space and builds its aggregator.
func NewPipeline(cfg FileConfig, logger *log.Logger) (*Pipeline, error) {
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	p := &Pipeline{cfg: cfg, columns: DefaultColumnCandidates(), logger: logger}
	if cfg.Columns != nil {
		p.columns = cfg.Columns.withDefaults()
	}
	seen := make(map[string]struct{}, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		name := NormalizeKey(tc.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: task without a name", ErrInvalidConfig)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: task %q configured twice", ErrInvalidConfig, tc.Name)
		}
		seen[name] = struct{}{}
		labels, err := p.resolveLabels(tc)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
		space, err := NewLabelSpace(name, labels)
		if err != nil {
			return nil, err
		}
		agg, err := NewAggregator(space, tc.Ensemble, logger)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
		if merger := NewLabelMerger(tc.MergeLabels); merger != nil {
			agg = agg.WithLabelMerger(merger)
		}
		tc.Name = name
		p.tasks = append(p.tasks, &taskRunner{cfg: tc, agg: agg})
		p.logf("Task %s: %d labels", name, space.Len())
	}
	return p, nil
}

func (p *Pipeline) resolveLabels(tc TaskConfig) ([]string, error) {
	if len(tc.Labels) > 0 {
		return tc.Labels, nil
	}
	path := p.cfg.LabelsFile(tc)
	if path == "" {
		return nil, fmt.Errorf("%w: neither labels nor labelsPath is set", ErrInvalidConfig)
	}
	labels, err := ParseLabelFile(path, LabelParseOptions{Column: tc.LabelColumn, Columns: p.columnsRef()})
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

// Config returns a copy of the configuration the pipeline was built with.
func (p *Pipeline) Config() FileConfig {
	return p.cfg.Clone()
}

// Tasks returns the task names in configuration order.
func (p *Pipeline) Tasks() []string {
	out := make([]string, len(p.tasks))
	for i, t := range p.tasks {
		out[i] = t.cfg.Name
	}
	return out
}

// Space returns the label space of a task.
func (p *Pipeline) Space(task string) (LabelSpace, bool) {
	key := NormalizeKey(task)
	for _, t := range p.tasks {
		if t.cfg.Name == key {
			return t.agg.Space(), true
		}
	}
	return LabelSpace{}, false
}

// TableOptions returns the parse options matching this pipeline's tasks and
// column candidates.
func (p *Pipeline) TableOptions() TableParseOptions {
	return TableParseOptions{IDColumn: p.cfg.IDColumn, Tasks: p.Tasks(), Columns: p.columnsRef()}
}

func (p *Pipeline) columnsRef() *ColumnCandidates {
	cols := p.columns.clone()
	return &cols
}

// Run validates every task before aggregating any of them, so a data error
// in one task leaves no results for the others either.
func (p *Pipeline) Run(table *Table) (*Output, error) {
	if table == nil {
		return nil, errors.New("nil prediction table")
	}
	validated := make([]*Validated, len(p.tasks))
	for i, t := range p.tasks {
		v, err := t.agg.Validate(table.Samples(t.cfg.Name))
		if err != nil {
			return nil, err
		}
		validated[i] = v
	}
	out := &Output{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Tasks:     make([]TaskOutput, len(p.tasks)),
		Records:   table.Records,
	}
	for i, t := range p.tasks {
		results := validated[i].Aggregate()
		out.Tasks[i] = TaskOutput{
			Task:      t.cfg.Name,
			Space:     t.agg.Space(),
			Models:    validated[i].Models(),
			Results:   results,
			validated: validated[i],
		}
		p.logf("Task %s: aggregated %d samples over models [%s]", t.cfg.Name, len(results), strings.Join(validated[i].Models(), ", "))
	}
	return out, nil
}

// Task returns the output for one task.
func (o *Output) Task(name string) (TaskOutput, bool) {
	key := NormalizeKey(name)
	for _, t := range o.Tasks {
		if t.Task == key {
			return t, true
		}
	}
	return TaskOutput{}, false
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
