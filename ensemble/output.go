package ensemble

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResultRow is one sample across every task of a run.
type ResultRow struct {
	SampleID string               `json:"sampleId"`
	Title    string               `json:"title,omitempty"`
	Labels   map[string]string    `json:"labels"`
	Scores   map[string][]float64 `json:"scores,omitempty"`
}

// Rows joins the per-task results by table position.
func (o *Output) Rows(includeScores bool) ([]ResultRow, error) {
	n := len(o.Records)
	for _, t := range o.Tasks {
		if len(t.Results) != n {
			return nil, fmt.Errorf("task %s has %d results for %d records", t.Task, len(t.Results), n)
		}
	}
	rows := make([]ResultRow, n)
	for i := range rows {
		row := ResultRow{
			SampleID: o.Records[i].ID,
			Title:    o.Records[i].Title,
			Labels:   make(map[string]string, len(o.Tasks)),
		}
		if includeScores {
			row.Scores = make(map[string][]float64, len(o.Tasks))
		}
		for _, t := range o.Tasks {
			res := t.Results[i]
			if res.SampleID != row.SampleID {
				return nil, fmt.Errorf("task %s: row %d is sample %q, want %q", t.Task, i+1, res.SampleID, row.SampleID)
			}
			row.Labels[t.Task] = res.Label
			if includeScores {
				row.Scores[t.Task] = res.Scores
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// WriteResults writes the run to path as CSV, TSV or JSON depending on its extension.
func WriteResults(path string, out *Output, includeScores bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = WriteResultJSON(f, out, includeScores)
	case ".tsv":
		err = WriteResultCSV(f, '\t', out, includeScores)
	default:
		err = WriteResultCSV(f, ',', out, includeScores)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// WriteResultCSV writes sample_id, final_<task>_label columns and, when
// includeScores is set, one <task>:score:<label> column per class.
func WriteResultCSV(w io.Writer, comma rune, out *Output, includeScores bool) error {
	rows, err := out.Rows(includeScores)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	writer.Comma = comma
	header := []string{"sample_id"}
	for _, t := range out.Tasks {
		header = append(header, fmt.Sprintf("final_%s_label", t.Task))
	}
	if includeScores {
		for _, t := range out.Tasks {
			for _, label := range t.Space.Labels() {
				header = append(header, fmt.Sprintf("%s:score:%s", t.Task, label))
			}
		}
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		record := []string{row.SampleID}
		for _, t := range out.Tasks {
			record = append(record, row.Labels[t.Task])
		}
		if includeScores {
			for _, t := range out.Tasks {
				for _, s := range row.Scores[t.Task] {
					record = append(record, strconv.FormatFloat(s, 'f', 6, 64))
				}
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}
	return nil
}

// WriteResultJSON writes the joined rows as an indented JSON array.
func WriteResultJSON(w io.Writer, out *Output, includeScores bool) error {
	rows, err := out.Rows(includeScores)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
