package ensemble

import (
	"fmt"
	"io"
	"strings"
)

// ClassMetrics holds one-vs-rest scores for a single class.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Metrics summarizes predictions against ground truth.
type Metrics struct {
	Samples    int            `json:"samples"`
	Accuracy   float64        `json:"accuracy"`
	MacroF1    float64        `json:"macroF1"`
	WeightedF1 float64        `json:"weightedF1"`
	Classes    []ClassMetrics `json:"classes"`
	// Confusion[i][j] counts samples of true class i predicted as class j.
	Confusion [][]int `json:"confusion"`
}

// ModelMetrics is the evaluation of one upstream model on its own.
type ModelMetrics struct {
	Model   string  `json:"model"`
	Metrics Metrics `json:"metrics"`
}

// TaskReport compares the ensemble with each of its members on one task.
type TaskReport struct {
	Task     string         `json:"task"`
	Ensemble Metrics        `json:"ensemble"`
	Models   []ModelMetrics `json:"models"`
}

// Report is the optional evaluation pass over a run.
type Report struct {
	RunID string       `json:"runId"`
	Tasks []TaskReport `json:"tasks"`
}

// Evaluate scores predicted class indices against truth labels. Precision of a
// class that was never predicted is 0. Macro and weighted averages run over
// classes that occur in the truth or in the predictions.
func Evaluate(space LabelSpace, truth []string, predicted []int) (Metrics, error) {
	if len(truth) != len(predicted) {
		return Metrics{}, fmt.Errorf("evaluate: %d truth labels for %d predictions", len(truth), len(predicted))
	}
	n := space.Len()
	m := Metrics{Samples: len(truth), Confusion: make([][]int, n)}
	for i := range m.Confusion {
		m.Confusion[i] = make([]int, n)
	}
	if len(truth) == 0 {
		return m, nil
	}
	correct := 0
	for i, label := range truth {
		t, ok := space.Index(label)
		if !ok {
			return Metrics{}, &LabelSpaceMismatchError{Task: space.Task(), Model: "ground truth", Want: space.Labels(), Got: []string{label}}
		}
		p := predicted[i]
		if p < 0 || p >= n {
			return Metrics{}, fmt.Errorf("evaluate: prediction %d out of range", p)
		}
		m.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	m.Accuracy = float64(correct) / float64(len(truth))

	var macroSum, weightedSum float64
	active := 0
	m.Classes = make([]ClassMetrics, n)
	for c := 0; c < n; c++ {
		tp := m.Confusion[c][c]
		support, predictedCount := 0, 0
		for k := 0; k < n; k++ {
			support += m.Confusion[c][k]
			predictedCount += m.Confusion[k][c]
		}
		cm := ClassMetrics{Label: space.Label(c), Support: support}
		if predictedCount > 0 {
			cm.Precision = float64(tp) / float64(predictedCount)
		}
		if support > 0 {
			cm.Recall = float64(tp) / float64(support)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		m.Classes[c] = cm
		if support > 0 || predictedCount > 0 {
			active++
			macroSum += cm.F1
		}
		weightedSum += cm.F1 * float64(support)
	}
	if active > 0 {
		m.MacroF1 = macroSum / float64(active)
	}
	m.WeightedF1 = weightedSum / float64(len(truth))
	return m, nil
}

// EvaluateResults scores aggregated results that carry a truth label.
// ok is false when no result has one.
func EvaluateResults(space LabelSpace, results []Result) (Metrics, bool, error) {
	truth := make([]string, 0, len(results))
	predicted := make([]int, 0, len(results))
	for _, r := range results {
		if r.Truth == "" {
			continue
		}
		truth = append(truth, r.Truth)
		predicted = append(predicted, r.LabelIndex)
	}
	if len(truth) == 0 {
		return Metrics{}, false, nil
	}
	m, err := Evaluate(space, truth, predicted)
	return m, err == nil, err
}

// EvaluateModels scores every member model on the samples where it voted and
// a truth label exists.
func EvaluateModels(v *Validated) ([]ModelMetrics, error) {
	out := make([]ModelMetrics, 0, len(v.models))
	for _, model := range v.models {
		vectors, _ := v.ModelVectors(model)
		var truth []string
		var predicted []int
		for i, s := range v.samples {
			if s.truth == "" || vectors[i] == nil {
				continue
			}
			truth = append(truth, s.truth)
			predicted = append(predicted, Argmax(vectors[i], v.tolerance))
		}
		m, err := Evaluate(v.space, truth, predicted)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", model, err)
		}
		out = append(out, ModelMetrics{Model: model, Metrics: m})
	}
	return out, nil
}

// Evaluate runs the evaluation pass over every task that has ground truth.
// Tasks without any truth labels are left out of the report.
func (o *Output) Evaluate() (*Report, error) {
	report := &Report{RunID: o.RunID}
	for _, t := range o.Tasks {
		m, ok, err := EvaluateResults(t.Space, t.Results)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.Task, err)
		}
		if !ok {
			continue
		}
		tr := TaskReport{Task: t.Task, Ensemble: m}
		if t.validated != nil {
			if tr.Models, err = EvaluateModels(t.validated); err != nil {
				return nil, fmt.Errorf("task %s: %w", t.Task, err)
			}
		}
		report.Tasks = append(report.Tasks, tr)
	}
	return report, nil
}

// WriteSummary prints a short plain-text comparison table.
func (r *Report) WriteSummary(w io.Writer) error {
	var b strings.Builder
	if len(r.Tasks) == 0 {
		b.WriteString("no ground truth available, evaluation skipped\n")
	}
	for _, t := range r.Tasks {
		fmt.Fprintf(&b, "==== %s (%d samples) ====\n", t.Task, t.Ensemble.Samples)
		fmt.Fprintf(&b, "  %-20s acc=%.3f macroF1=%.3f weightedF1=%.3f\n", "ensemble", t.Ensemble.Accuracy, t.Ensemble.MacroF1, t.Ensemble.WeightedF1)
		for _, mm := range t.Models {
			fmt.Fprintf(&b, "  %-20s acc=%.3f macroF1=%.3f weightedF1=%.3f (n=%d)\n", mm.Model, mm.Metrics.Accuracy, mm.Metrics.MacroF1, mm.Metrics.WeightedF1, mm.Metrics.Samples)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
