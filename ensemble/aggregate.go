package ensemble

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
)

// Aggregator combines per-model distributions into one label per sample by
// weighted soft voting over a fixed label space.
type Aggregator struct {
	space    LabelSpace
	cfg      Config
	tol      float64
	merger   LabelMerger
	weights  map[string]float64
	optional map[string]struct{}
	logger   *log.Logger
}

// NewAggregator validates cfg against space and returns an aggregator. A nil
// logger silences it.
func NewAggregator(space LabelSpace, cfg Config, logger *log.Logger) (*Aggregator, error) {
	if space.Len() == 0 {
		return nil, fmt.Errorf("%w: label space is empty", ErrInvalidConfig)
	}
	cfg = cfg.clone()
	cfg.ApplyDefaults()
	tol := *cfg.Tolerance
	if tol < 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
		return nil, fmt.Errorf("%w: tolerance is %v, want a finite non-negative number", ErrInvalidConfig, tol)
	}
	a := &Aggregator{
		space:    space,
		cfg:      cfg,
		tol:      tol,
		optional: make(map[string]struct{}, len(cfg.OptionalModels)),
		logger:   logger,
	}
	if len(cfg.Weights) > 0 {
		a.weights = make(map[string]float64, len(cfg.Weights))
		var total float64
		for model, w := range cfg.Weights {
			key := NormalizeKey(model)
			if key == "" {
				return nil, fmt.Errorf("%w: blank model id in weights", ErrInvalidConfig)
			}
			if _, dup := a.weights[key]; dup {
				return nil, fmt.Errorf("%w: model %q weighted twice", ErrInvalidConfig, model)
			}
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("%w: model %q has weight %v, want a finite non-negative number", ErrInvalidConfig, model, w)
			}
			a.weights[key] = w
			total += w
		}
		if total <= 0 {
			return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidConfig)
		}
	}
	for _, model := range cfg.OptionalModels {
		key := NormalizeKey(model)
		if key == "" {
			continue
		}
		if a.weights != nil {
			if _, ok := a.weights[key]; !ok {
				return nil, fmt.Errorf("%w: optional model %q has no weight", ErrInvalidConfig, model)
			}
		}
		a.optional[key] = struct{}{}
	}
	return a, nil
}

// WithLabelMerger returns a copy of the aggregator that rewrites hard labels
// through m before looking them up.
func (a *Aggregator) WithLabelMerger(m LabelMerger) *Aggregator {
	cp := *a
	cp.merger = m
	return &cp
}

// Space returns the label space the aggregator votes over.
func (a *Aggregator) Space() LabelSpace { return a.space }

// Tolerance returns the effective epsilon.
func (a *Aggregator) Tolerance() float64 { return a.tol }

// Validated is a batch that passed validation, with every prediction
// converted to a probability vector.
type Validated struct {
	space     LabelSpace
	tolerance float64
	models    []string
	weights   []float64
	total     float64
	samples   []validatedSample
}

type validatedSample struct {
	id      string
	truth   string
	vectors [][]float64
	absent  []string
}

// Models returns the model ids taking part in the vote, in sorted order.
func (v *Validated) Models() []string { return cloneStrings(v.models) }

// Len returns the number of samples in the batch.
func (v *Validated) Len() int { return len(v.samples) }

// ModelVectors returns each sample's distribution for one model, nil where
// the model was absent. Used by the per-model evaluation pass.
func (v *Validated) ModelVectors(model string) ([][]float64, bool) {
	key := NormalizeKey(model)
	idx := sort.SearchStrings(v.models, key)
	if idx >= len(v.models) || v.models[idx] != key {
		return nil, false
	}
	out := make([][]float64, len(v.samples))
	for i, s := range v.samples {
		out[i] = s.vectors[idx]
	}
	return out, true
}

// Validate checks the whole batch before anything is aggregated. The first
// MissingPredictionError, InvalidDistributionError or LabelSpaceMismatchError
// aborts it.
func (a *Aggregator) Validate(samples []Sample) (*Validated, error) {
	if len(samples) == 0 {
		return &Validated{space: a.space, tolerance: a.tol}, nil
	}
	models, weights, err := a.resolveModels(samples)
	if err != nil {
		return nil, err
	}
	v := &Validated{
		space:     a.space,
		tolerance: a.tol,
		models:    models,
		weights:   weights,
		samples:   make([]validatedSample, 0, len(samples)),
	}
	for _, w := range weights {
		v.total += w
	}
	ignored := make(map[string]struct{})
	seen := make(map[string]struct{}, len(samples))
	for i, s := range samples {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			id = fmt.Sprintf("#%d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s: sample %q appears twice", ErrInvalidConfig, taskPrefix(a.space.Task()), id)
		}
		seen[id] = struct{}{}

		preds, err := a.keyedPredictions(id, s.Predictions)
		if err != nil {
			return nil, err
		}
		vs := validatedSample{
			id:      id,
			truth:   a.merger.Apply(strings.TrimSpace(s.Truth)),
			vectors: make([][]float64, len(models)),
		}
		for j, model := range models {
			p, ok := preds[model]
			if !ok {
				if _, opt := a.optional[model]; opt {
					vs.absent = append(vs.absent, model)
					continue
				}
				return nil, &MissingPredictionError{Task: a.space.Task(), Model: model, SampleID: id}
			}
			vec, err := a.distribution(id, model, p)
			if err != nil {
				return nil, err
			}
			vs.vectors[j] = vec
		}
		for model := range preds {
			if _, ok := a.weights[model]; a.weights != nil && !ok {
				ignored[model] = struct{}{}
			}
		}
		v.samples = append(v.samples, vs)
	}
	if len(ignored) > 0 {
		names := make([]string, 0, len(ignored))
		for m := range ignored {
			names = append(names, m)
		}
		sort.Strings(names)
		a.logf("%s: ignoring unweighted models: %s", taskPrefix(a.space.Task()), strings.Join(names, ", "))
	}
	return v, nil
}

// Aggregate runs the weighted vote over a validated batch. It cannot fail.
// The label is the argmax of the raw weighted sums; the reported Scores are
// those sums divided by the total configured weight.
func (v *Validated) Aggregate() []Result {
	results := make([]Result, len(v.samples))
	for i, s := range v.samples {
		scores := make([]float64, v.space.Len())
		for j, vec := range s.vectors {
			if vec == nil {
				continue
			}
			w := v.weights[j]
			for c, p := range vec {
				scores[c] += w * p
			}
		}
		best := Argmax(scores, v.tolerance)
		for c := range scores {
			scores[c] /= v.total
		}
		results[i] = Result{
			SampleID:   s.id,
			Label:      v.space.Label(best),
			LabelIndex: best,
			Scores:     scores,
			Truth:      s.truth,
			Absent:     cloneStrings(s.absent),
		}
	}
	return results
}

// AggregateAll validates and aggregates a batch. No partial results are
// returned on error.
func (a *Aggregator) AggregateAll(samples []Sample) ([]Result, error) {
	v, err := a.Validate(samples)
	if err != nil {
		return nil, err
	}
	results := v.Aggregate()
	a.logf("%s: aggregated %d samples over %d models", taskPrefix(a.space.Task()), len(results), len(v.models))
	return results, nil
}

// Argmax returns the index of the highest score. Scores within tol of the
// maximum count as tied and the lowest index among them wins.
func Argmax(scores []float64, tol float64) int {
	if len(scores) == 0 {
		return -1
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	top := scores[best]
	for i, s := range scores {
		if top-s <= tol {
			return i
		}
	}
	return best
}

func (a *Aggregator) resolveModels(samples []Sample) ([]string, []float64, error) {
	var models []string
	if a.weights != nil {
		models = make([]string, 0, len(a.weights))
		for m := range a.weights {
			models = append(models, m)
		}
	} else {
		set := make(map[string]struct{})
		for _, s := range samples {
			for m := range s.Predictions {
				if key := NormalizeKey(m); key != "" {
					set[key] = struct{}{}
				}
			}
		}
		for m := range a.optional {
			set[m] = struct{}{}
		}
		for m := range set {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, nil, fmt.Errorf("%w: %s: no models to aggregate", ErrInvalidConfig, taskPrefix(a.space.Task()))
	}
	sort.Strings(models)
	weights := make([]float64, len(models))
	for i, m := range models {
		if a.weights == nil {
			weights[i] = 1
			continue
		}
		weights[i] = a.weights[m]
	}
	return models, weights, nil
}

func (a *Aggregator) keyedPredictions(id string, preds map[string]Prediction) (map[string]Prediction, error) {
	out := make(map[string]Prediction, len(preds))
	for model, p := range preds {
		key := NormalizeKey(model)
		if key == "" {
			continue
		}
		if len(p.Probs) == 0 && strings.TrimSpace(p.Label) == "" {
			// empty cells: the model produced nothing for this sample
			continue
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: %s: sample %q lists model %q twice", ErrInvalidConfig, taskPrefix(a.space.Task()), id, model)
		}
		out[key] = p
	}
	return out, nil
}

func (a *Aggregator) distribution(id, model string, p Prediction) ([]float64, error) {
	task := a.space.Task()
	if p.IsHard() {
		label := a.merger.Apply(strings.TrimSpace(p.Label))
		vec, ok := a.space.OneHot(label)
		if !ok {
			return nil, &LabelSpaceMismatchError{Task: task, Model: model, SampleID: id, Want: a.space.Labels(), Got: []string{label}}
		}
		return vec, nil
	}
	if len(p.Labels) > 0 && !a.space.Matches(p.Labels) {
		return nil, &LabelSpaceMismatchError{Task: task, Model: model, SampleID: id, Want: a.space.Labels(), Got: cloneStrings(p.Labels)}
	}
	if len(p.Probs) != a.space.Len() {
		return nil, &InvalidDistributionError{Task: task, Model: model, SampleID: id,
			Reason: fmt.Sprintf("has %d entries, label space has %d", len(p.Probs), a.space.Len())}
	}
	var sum float64
	for c, v := range p.Probs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &InvalidDistributionError{Task: task, Model: model, SampleID: id,
				Reason: fmt.Sprintf("entry %q is not a finite number", a.space.Label(c))}
		}
		if v < 0 {
			return nil, &InvalidDistributionError{Task: task, Model: model, SampleID: id,
				Reason: fmt.Sprintf("entry %q is negative (%g)", a.space.Label(c), v)}
		}
		sum += v
	}
	if math.Abs(sum-1) > a.tol {
		return nil, &InvalidDistributionError{Task: task, Model: model, SampleID: id,
			Reason: fmt.Sprintf("sums to %g", sum)}
	}
	vec := make([]float64, len(p.Probs))
	copy(vec, p.Probs)
	return vec, nil
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
