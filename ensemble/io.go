package ensemble

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LabelParseOptions selects which column of a label file holds the class names.
// Columns overrides the process-wide detection candidates when set.
type LabelParseOptions struct {
	Column  string
	Columns *ColumnCandidates
}

// TableParseOptions controls how a prediction table is read. Tasks limits the
// prediction columns that are picked up; empty means every task in the header.
// Columns overrides the process-wide detection candidates when set.
type TableParseOptions struct {
	IDColumn          string
	TitleColumn       string
	DescriptionColumn string
	Tasks             []string
	Columns           *ColumnCandidates
}

// Record is one row of the prediction table.
type Record struct {
	ID          string                           `json:"id"`
	Title       string                           `json:"title,omitempty"`
	Description string                           `json:"description,omitempty"`
	Truth       map[string]string                `json:"truth,omitempty"`
	Predictions map[string]map[string]Prediction `json:"predictions"`
}

// Table is a parsed prediction table.
type Table struct {
	Records []Record
	Tasks   []string
}

// Samples returns the task's view of every record, in table order.
func (t *Table) Samples(task string) []Sample {
	key := NormalizeKey(task)
	out := make([]Sample, len(t.Records))
	for i, rec := range t.Records {
		s := Sample{ID: rec.ID, Predictions: map[string]Prediction{}}
		for name, truth := range rec.Truth {
			if NormalizeKey(name) == key {
				s.Truth = truth
			}
		}
		for name, preds := range rec.Predictions {
			if NormalizeKey(name) != key {
				continue
			}
			for model, p := range preds {
				s.Predictions[model] = p
			}
		}
		out[i] = s
	}
	return out
}

// ParseLabelFile reads a label space from a CSV/TSV column or a plain text list.
// Labels keep their first-seen order and are deduplicated by normalized key.
func ParseLabelFile(path string, opts LabelParseOptions) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".tsv" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open label file: %w", err)
		}
		labels := parseLabelList(string(data))
		if len(labels) == 0 {
			return nil, fmt.Errorf("no labels found in %s", path)
		}
		return labels, nil
	}
	rows, err := readDelimited(path, delimiterFor(ext))
	if err != nil {
		return nil, err
	}
	header := cleanHeader(rows[0])
	col, start, err := resolveLabelColumn(header, opts.Column, candidatesOrActive(opts.Columns))
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(rows)-start)
	for _, row := range rows[start:] {
		if col >= len(row) {
			continue
		}
		values = append(values, cleanCell(row[col]))
	}
	labels := uniqueNormalized(values)
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels found in %s", path)
	}
	return labels, nil
}

// ParsePredictionTable reads a .csv, .tsv or .json prediction table.
func ParsePredictionTable(path string, opts TableParseOptions) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
		}
		defer f.Close()
		return DecodePredictionJSON(f, opts)
	case ".csv", ".tsv":
		rows, err := readDelimited(path, delimiterFor(ext))
		if err != nil {
			return nil, err
		}
		return parsePredictionRows(rows, opts)
	default:
		return nil, fmt.Errorf("unsupported prediction table %s: want .csv, .tsv or .json", filepath.Base(path))
	}
}

// DecodePredictionJSON reads an array of records.
func DecodePredictionJSON(r io.Reader, opts TableParseOptions) (*Table, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode prediction json: %w", err)
	}
	allowed := taskFilter(opts.Tasks)
	seen := make(map[string]struct{})
	table := &Table{Records: records}
	for i := range table.Records {
		rec := &table.Records[i]
		if strings.TrimSpace(rec.ID) == "" {
			rec.ID = strconv.Itoa(i + 1)
		}
		for task := range rec.Predictions {
			key := NormalizeKey(task)
			if allowed != nil {
				if _, ok := allowed[key]; !ok {
					delete(rec.Predictions, task)
					continue
				}
			}
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				table.Tasks = append(table.Tasks, key)
			}
		}
	}
	return table, nil
}

// ParsePredictionCSV reads a delimited prediction table from r.
func ParsePredictionCSV(r io.Reader, comma rune, opts TableParseOptions) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read prediction table: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("empty prediction table")
	}
	return parsePredictionRows(rows, opts)
}

type softGroup struct {
	task   string
	model  string
	labels []string
	cols   []int
}

type hardColumn struct {
	task  string
	model string
	col   int
}

type tableLayout struct {
	id, title, description int
	truth                  map[string]int
	soft                   []*softGroup
	hard                   []hardColumn
	tasks                  []string
}

func parsePredictionRows(rows [][]string, opts TableParseOptions) (*Table, error) {
	header := cleanHeader(rows[0])
	layout, err := resolveTableLayout(header, opts)
	if err != nil {
		return nil, err
	}
	if len(layout.soft) == 0 && len(layout.hard) == 0 {
		return nil, errors.New("prediction table has no <task>:<model> columns")
	}
	table := &Table{Records: make([]Record, 0, len(rows)-1), Tasks: layout.tasks}
	for n, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rec := Record{
			ID:          cellAt(row, layout.id),
			Title:       cellAt(row, layout.title),
			Description: cellAt(row, layout.description),
			Truth:       make(map[string]string, len(layout.truth)),
			Predictions: make(map[string]map[string]Prediction, len(layout.tasks)),
		}
		if rec.ID == "" {
			rec.ID = strconv.Itoa(n + 1)
		}
		for task, col := range layout.truth {
			if v := cellAt(row, col); v != "" {
				rec.Truth[task] = v
			}
		}
		for _, g := range layout.soft {
			p, ok, err := g.parse(rec.ID, row)
			if err != nil {
				return nil, err
			}
			if ok {
				rec.prediction(g.task)[g.model] = p
			}
		}
		for _, h := range layout.hard {
			if v := cellAt(row, h.col); v != "" {
				rec.prediction(h.task)[h.model] = Prediction{Label: v}
			}
		}
		table.Records = append(table.Records, rec)
	}
	return table, nil
}

func (r *Record) prediction(task string) map[string]Prediction {
	m, ok := r.Predictions[task]
	if !ok {
		m = make(map[string]Prediction)
		r.Predictions[task] = m
	}
	return m
}

// parse reports ok=false when every cell of the group is empty.
func (g *softGroup) parse(id string, row []string) (Prediction, bool, error) {
	cells := make([]string, len(g.cols))
	empty := true
	for i, col := range g.cols {
		cells[i] = cellAt(row, col)
		if cells[i] != "" {
			empty = false
		}
	}
	if empty {
		return Prediction{}, false, nil
	}
	probs := make([]float64, len(cells))
	for i, cell := range cells {
		if cell == "" {
			return Prediction{}, false, &InvalidDistributionError{Task: g.task, Model: g.model, SampleID: id,
				Reason: fmt.Sprintf("entry %q is empty", g.labels[i])}
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return Prediction{}, false, &InvalidDistributionError{Task: g.task, Model: g.model, SampleID: id,
				Reason: fmt.Sprintf("entry %q is not a number: %q", g.labels[i], cell)}
		}
		probs[i] = v
	}
	return Prediction{Labels: cloneStrings(g.labels), Probs: probs}, true, nil
}

func resolveTableLayout(header []string, opts TableParseOptions) (tableLayout, error) {
	layout := tableLayout{id: -1, title: -1, description: -1, truth: map[string]int{}}
	candidates := candidatesOrActive(opts.Columns)
	var err error
	if layout.id, err = pickColumn(header, opts.IDColumn, candidates.ID); err != nil {
		return layout, err
	}
	if layout.title, err = pickColumn(header, opts.TitleColumn, candidates.Title); err != nil {
		return layout, err
	}
	if layout.description, err = pickColumn(header, opts.DescriptionColumn, candidates.Description); err != nil {
		return layout, err
	}
	allowed := taskFilter(opts.Tasks)
	groups := make(map[string]*softGroup)
	seenTask := make(map[string]struct{})
	for col, name := range header {
		parts := strings.SplitN(name, ":", 3)
		if len(parts) < 2 {
			continue
		}
		task := NormalizeKey(parts[0])
		model := NormalizeKey(parts[1])
		if task == "" || model == "" {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[task]; !ok {
				continue
			}
		}
		if _, ok := seenTask[task]; !ok {
			seenTask[task] = struct{}{}
			layout.tasks = append(layout.tasks, task)
		}
		if len(parts) == 2 {
			layout.hard = append(layout.hard, hardColumn{task: task, model: model, col: col})
			continue
		}
		key := task + ":" + model
		g, ok := groups[key]
		if !ok {
			g = &softGroup{task: task, model: model}
			groups[key] = g
			layout.soft = append(layout.soft, g)
		}
		g.labels = append(g.labels, NormalizeText(parts[2]))
		g.cols = append(g.cols, col)
	}
	for _, task := range layout.tasks {
		if col := findColumn(header, candidates.truthFor(task)); col >= 0 {
			layout.truth[task] = col
		}
	}
	return layout, nil
}

func taskFilter(tasks []string) map[string]struct{} {
	if len(tasks) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		out[NormalizeKey(t)] = struct{}{}
	}
	return out
}

func parseLabelList(data string) []string {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	tokens := strings.FieldsFunc(data, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})
	return uniqueNormalized(tokens)
}

func readDelimited(path string, comma rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file %s", filepath.Base(path))
	}
	return rows, nil
}

func delimiterFor(ext string) rune {
	if ext == ".tsv" {
		return '\t'
	}
	return ','
}

func cleanHeader(row []string) []string {
	header := make([]string, len(row))
	for i, cell := range row {
		header[i] = cleanCell(cell)
	}
	return header
}

func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "\ufeff")
	return v
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return cleanCell(row[col])
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if cleanCell(cell) != "" {
			return false
		}
	}
	return true
}

// findColumn honours candidate priority: the first candidate present wins.
func findColumn(header []string, candidates []string) int {
	for _, cand := range candidates {
		key := NormalizeKey(cand)
		for i, col := range header {
			if NormalizeKey(col) == key {
				return i
			}
		}
	}
	return -1
}

func pickColumn(header []string, explicit string, candidates []string) (int, error) {
	if strings.TrimSpace(explicit) != "" {
		idx, _, err := matchExplicitColumn(header, explicit)
		return idx, err
	}
	return findColumn(header, candidates), nil
}

func matchExplicitColumn(header []string, explicit string) (int, bool, error) {
	trimmed := strings.TrimSpace(explicit)
	if trimmed == "" {
		return -1, false, nil
	}
	key := NormalizeKey(trimmed)
	for i, col := range header {
		if NormalizeKey(col) == key {
			return i, true, nil
		}
	}
	if strings.HasPrefix(trimmed, "#") {
		idx, err := parseColumnIndex(trimmed)
		if err != nil {
			return -1, false, err
		}
		if idx >= len(header) {
			return -1, false, fmt.Errorf("column index %s is out of range", trimmed)
		}
		return idx, false, nil
	}
	return -1, false, fmt.Errorf("column %q not found", explicit)
}

func parseColumnIndex(token string) (int, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(token, "#"))
	if trimmed == "" {
		return -1, fmt.Errorf("invalid column index %q", token)
	}
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return -1, fmt.Errorf("invalid column index %q", token)
	}
	if idx <= 0 {
		return -1, fmt.Errorf("column indices are 1-based: %q", token)
	}
	return idx - 1, nil
}

func resolveLabelColumn(header []string, explicit string, candidates ColumnCandidates) (int, int, error) {
	if strings.TrimSpace(explicit) != "" {
		idx, fromHeader, err := matchExplicitColumn(header, explicit)
		if err != nil {
			return -1, 0, err
		}
		start := 0
		if fromHeader {
			start = 1
		}
		return idx, start, nil
	}
	col := findColumn(header, candidates.Label)
	if col >= 0 {
		return col, 1, nil
	}
	if len(header) == 0 {
		return -1, 0, errors.New("no usable label column found")
	}
	return 0, 0, nil
}
