package ensemble

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() FileConfig {
	return FileConfig{
		Tasks: []TaskConfig{
			{
				Name:   TaskDepartment,
				Labels: []string{"Sales", "IT"},
				Ensemble: Config{
					Weights:        map[string]float64{"bow": 0.7, "rule": 0.3},
					OptionalModels: []string{"rule"},
				},
			},
			{
				Name:        TaskSeniority,
				Labels:      []string{"Junior", "Senior"},
				MergeLabels: map[string]string{"Lead": "Senior"},
			},
		},
	}
}

func TestPipelineRun(t *testing.T) {
	var logs bytes.Buffer
	p, err := NewPipeline(testConfig(), log.New(&logs, "", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"department", "seniority"}, p.Tasks())

	table, err := ParsePredictionCSV(strings.NewReader(predictionCSV), ',', p.TableOptions())
	require.NoError(t, err)

	out, err := p.Run(table)
	require.NoError(t, err)
	assert.NotEmpty(t, out.RunID)
	require.Len(t, out.Tasks, 2)

	dept, ok := out.Task("department")
	require.True(t, ok)
	assert.Equal(t, []string{"bow", "rule"}, dept.Models)
	assert.Equal(t, "Sales", dept.Results[0].Label)
	assert.InDeltaSlice(t, []float64{0.86, 0.14}, dept.Results[0].Scores, 1e-9)
	// rule is optional and silent for p2: its 0.3 of mass is simply lost
	assert.Equal(t, "IT", dept.Results[1].Label)
	assert.InDeltaSlice(t, []float64{0.21, 0.49}, dept.Results[1].Scores, 1e-9)

	sen, ok := out.Task("seniority")
	require.True(t, ok)
	assert.Equal(t, "Junior", sen.Results[0].Label)
	assert.Equal(t, "Senior", sen.Results[1].Label)
	assert.Contains(t, logs.String(), "aggregated 2 samples")
}

func TestPipelineRunAbortsWholeBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks[1].Ensemble.Weights = map[string]float64{"finetuned": 1, "bow": 1}
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)

	table, err := ParsePredictionCSV(strings.NewReader(predictionCSV), ',', p.TableOptions())
	require.NoError(t, err)
	out, err := p.Run(table)
	assert.Nil(t, out)
	var missing *MissingPredictionError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "seniority", missing.Task)
	assert.Equal(t, "bow", missing.Model)
	assert.Equal(t, "p1", missing.SampleID)
}

func TestNewPipelineErrors(t *testing.T) {
	_, err := NewPipeline(FileConfig{Tasks: []TaskConfig{{Name: "department"}}}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPipeline(FileConfig{Tasks: []TaskConfig{
		{Name: "department", Labels: []string{"A"}},
		{Name: "Department", Labels: []string{"A"}},
	}}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPipeline(FileConfig{Tasks: []TaskConfig{{Name: "x", LabelsPath: filepath.Join(t.TempDir(), "none.csv")}}}, nil)
	assert.Error(t, err)
}

func TestNewPipelineReadsLabelFile(t *testing.T) {
	path := writeFile(t, "seniority-v2.csv", "text,label\nintern,Junior\nhead of,Senior\n")
	p, err := NewPipeline(FileConfig{Tasks: []TaskConfig{{Name: "seniority", LabelsPath: path}}}, nil)
	require.NoError(t, err)
	space, ok := p.Space("seniority")
	require.True(t, ok)
	assert.Equal(t, []string{"Junior", "Senior"}, space.Labels())
}

func runTestPipeline(t *testing.T) *Output {
	t.Helper()
	p, err := NewPipeline(testConfig(), nil)
	require.NoError(t, err)
	table, err := ParsePredictionCSV(strings.NewReader(predictionCSV), ',', p.TableOptions())
	require.NoError(t, err)
	out, err := p.Run(table)
	require.NoError(t, err)
	return out
}

func TestWriteResultCSV(t *testing.T) {
	out := runTestPipeline(t)

	var buf bytes.Buffer
	require.NoError(t, WriteResultCSV(&buf, ',', out, false))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"sample_id", "final_department_label", "final_seniority_label"},
		{"p1", "Sales", "Junior"},
		{"p2", "IT", "Senior"},
	}, rows)

	buf.Reset()
	require.NoError(t, WriteResultCSV(&buf, ',', out, true))
	rows, err = csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"sample_id", "final_department_label", "final_seniority_label",
		"department:score:Sales", "department:score:IT", "seniority:score:Junior", "seniority:score:Senior"}, rows[0])
	assert.Equal(t, "0.860000", rows[1][3])
}

func TestWriteResultsJSON(t *testing.T) {
	out := runTestPipeline(t)
	path := filepath.Join(t.TempDir(), "nested", "results.json")
	require.NoError(t, WriteResults(path, out, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []ResultRow
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Backend Engineer", rows[1].Title)
	assert.Equal(t, "IT", rows[1].Labels["department"])
	assert.Len(t, rows[1].Scores["seniority"], 2)
}

func TestOutputRowsDetectsMisalignment(t *testing.T) {
	out := runTestPipeline(t)
	out.Tasks[1].Results = out.Tasks[1].Results[:1]
	_, err := out.Rows(false)
	assert.Error(t, err)
}

func TestPipelineColumnsDoNotLeakBetweenPipelines(t *testing.T) {
	data := "sample_id,person,seniority:bow:Junior,seniority:bow:Senior\ns-1,u-7,1,0\n"
	seniorityOnly := func(cols *ColumnCandidates) FileConfig {
		return FileConfig{
			Tasks:   []TaskConfig{{Name: "seniority", Labels: []string{"Junior", "Senior"}}},
			Columns: cols,
		}
	}

	custom, err := NewPipeline(seniorityOnly(&ColumnCandidates{ID: []string{"person"}}), nil)
	require.NoError(t, err)
	plain, err := NewPipeline(seniorityOnly(nil), nil)
	require.NoError(t, err)

	table, err := ParsePredictionCSV(strings.NewReader(data), ',', custom.TableOptions())
	require.NoError(t, err)
	assert.Equal(t, "u-7", table.Records[0].ID)

	table, err = ParsePredictionCSV(strings.NewReader(data), ',', plain.TableOptions())
	require.NoError(t, err)
	assert.Equal(t, "s-1", table.Records[0].ID)

	assert.Equal(t, DefaultColumnCandidates().ID, getColumnCandidates().ID)
}

func TestNewPipelineReportsNonFiniteWeight(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks[0].Ensemble.Weights["bow"] = math.Inf(1)
	_, err := NewPipeline(cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `model "bow" has weight +Inf`)

	cfg = testConfig()
	cfg.Tasks[1].Ensemble.Tolerance = Tolerance(math.NaN())
	_, err = NewPipeline(cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "task seniority")
	assert.Contains(t, err.Error(), "tolerance")
}

func TestNewPipelineResolvesLabelFileAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seniority-v2.csv"), []byte("text,label\nintern,Junior\nlead,Senior\n"), 0o644))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[{"name":"seniority","labelsPath":"seniority-v2.csv"}]}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	space, ok := p.Space("seniority")
	require.True(t, ok)
	assert.Equal(t, []string{"Junior", "Senior"}, space.Labels())
}
