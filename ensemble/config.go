package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigFile = "config.json"

// LoadConfig loads configuration from the given path or the default config.json.
// A missing file yields the defaults.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.baseDir = filepath.Dir(path)
	return cfg, nil
}

// SaveConfig persists configuration to disk. Relative label files stay
// relative, rebased onto the directory of path.
func SaveConfig(path string, cfg FileConfig) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := rebaseLabelPaths(&cfg, filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func rebaseLabelPaths(cfg *FileConfig, dir string) error {
	if cfg.baseDir == "" {
		return nil
	}
	target, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	for i, t := range cfg.Tasks {
		p := t.LabelsPath
		if p == "" || filepath.IsAbs(p) {
			continue
		}
		abs, err := filepath.Abs(cfg.LabelsFile(t))
		if err != nil {
			return fmt.Errorf("resolve labels path %s: %w", p, err)
		}
		rel, err := filepath.Rel(target, abs)
		if err != nil {
			rel = abs
		}
		cfg.Tasks[i].LabelsPath = filepath.ToSlash(rel)
	}
	return nil
}
