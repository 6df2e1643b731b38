package ensemble

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, TaskDepartment, cfg.Tasks[0].Name)
	assert.Equal(t, TaskSeniority, cfg.Tasks[1].Name)
	require.NotNil(t, cfg.Tasks[0].Ensemble.Tolerance)
	assert.Equal(t, DefaultTolerance, *cfg.Tasks[0].Ensemble.Tolerance)
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "config.json")
	cfg := testConfig()
	cfg.IncludeScores = true
	cfg.Tasks[1].LabelsPath = "seniority-v2.csv"
	cfg.Tasks[1].Labels = nil

	require.NoError(t, SaveConfig(path, cfg))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, loaded.IncludeScores)
	dept, ok := loaded.Task("Department")
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"bow": 0.7, "rule": 0.3}, dept.Ensemble.Weights)
	assert.Equal(t, []string{"rule"}, dept.Ensemble.OptionalModels)

	sen, ok := loaded.Task("seniority")
	require.True(t, ok)
	assert.Equal(t, "seniority-v2.csv", sen.LabelsPath)
	assert.Equal(t, filepath.Join(dir, "conf", "seniority-v2.csv"), loaded.LabelsFile(sen))
	assert.Equal(t, filepath.Join(dir, "conf"), loaded.BaseDir())
	assert.Equal(t, "Senior", sen.MergeLabels["Lead"])
}

func TestSaveLoadedConfigKeepsRelativeLabelPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[{"name":"seniority","labelsPath":"labels/seniority-v2.csv"}]}`), 0o644))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, SaveConfig(path, loaded))
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "labels/seniority-v2.csv", again.Tasks[0].LabelsPath)

	nested := filepath.Join(dir, "runs", "config.json")
	require.NoError(t, SaveConfig(nested, loaded))
	moved, err := LoadConfig(nested)
	require.NoError(t, err)
	assert.Equal(t, "../labels/seniority-v2.csv", moved.Tasks[0].LabelsPath)
	assert.Equal(t, filepath.Join(dir, "labels", "seniority-v2.csv"), moved.LabelsFile(moved.Tasks[0]))
	assert.Equal(t, "labels/seniority-v2.csv", loaded.Tasks[0].LabelsPath)
}

func TestConfigToleranceZeroSurvivesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := testConfig()
	cfg.Tasks[0].Ensemble.Tolerance = Tolerance(0)
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.Tasks[0].Ensemble.Tolerance)
	assert.Equal(t, 0.0, *loaded.Tasks[0].Ensemble.Tolerance)
	assert.Equal(t, DefaultTolerance, *loaded.Tasks[1].Ensemble.Tolerance)
}

func TestLoadConfigRejectsBadJSON(t *testing.T) {
	path := writeFile(t, "config.json", "{tasks:")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestFileConfigCloneIsDeep(t *testing.T) {
	cfg := testConfig()
	cp := cfg.Clone()
	cp.Tasks[0].Ensemble.Weights["bow"] = 5
	cp.Tasks[0].Labels[0] = "changed"
	cp.Tasks[1].MergeLabels["Lead"] = "Junior"
	assert.Equal(t, 0.7, cfg.Tasks[0].Ensemble.Weights["bow"])
	assert.Equal(t, "Sales", cfg.Tasks[0].Labels[0])
	assert.Equal(t, "Senior", cfg.Tasks[1].MergeLabels["Lead"])
}

func TestFileConfigCloneKeepsNonFiniteWeights(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks[0].Ensemble.Weights["bow"] = math.Inf(1)
	cp := cfg.Clone()
	require.Len(t, cp.Tasks, 2)
	assert.True(t, math.IsInf(cp.Tasks[0].Ensemble.Weights["bow"], 1))
}
