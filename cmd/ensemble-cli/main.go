package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"yashubustudio/cvensemble/ensemble"
)

type cliOptions struct {
	configPath string
	inputPath  string
	outputPath string
	outputDir  string
	reportPath string
	dbPath     string
	saveConfig string
	idColumn   string
	scores     bool
	stdout     bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		log.Fatalf("ensemble-cli: %v", err)
	}
	if err := run(opts); err != nil {
		log.Fatalf("ensemble-cli: %v", err)
	}
}

func parseFlags() (cliOptions, error) {
	// a missing .env is fine; flags and the real environment still apply
	_ = godotenv.Load()

	var opts cliOptions
	flag.StringVar(&opts.configPath, "config", os.Getenv("ENSEMBLE_CONFIG"), "Path to config.json (default: ./config.json, env ENSEMBLE_CONFIG)")
	flag.StringVar(&opts.inputPath, "input", os.Getenv("ENSEMBLE_INPUT"), "CSV/TSV/JSON prediction table (env ENSEMBLE_INPUT)")
	flag.StringVar(&opts.outputPath, "output", os.Getenv("ENSEMBLE_OUTPUT"), "Result file, .csv/.tsv/.json (default uses --output-dir/ensemble_*.csv)")
	flag.StringVar(&opts.outputDir, "output-dir", "csv", "Directory where result files are written when --output is omitted")
	flag.StringVar(&opts.reportPath, "report", "", "Write the evaluation report as JSON to this path")
	flag.StringVar(&opts.dbPath, "db", os.Getenv("ENSEMBLE_DB"), "Archive the run in this SQLite database (env ENSEMBLE_DB)")
	flag.StringVar(&opts.saveConfig, "save-config", "", "Write the effective configuration (after flag overrides) to this path")
	flag.StringVar(&opts.idColumn, "id-column", "", "Column name or #index holding the sample id")
	flag.BoolVar(&opts.scores, "scores", false, "Include aggregated scores in the result file")
	flag.BoolVar(&opts.stdout, "stdout", false, "Print a result preview and the evaluation summary to STDOUT")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --input FILE [options]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	opts.configPath = strings.TrimSpace(opts.configPath)
	opts.inputPath = strings.TrimSpace(opts.inputPath)
	opts.outputPath = strings.TrimSpace(opts.outputPath)
	opts.outputDir = strings.TrimSpace(opts.outputDir)
	opts.reportPath = strings.TrimSpace(opts.reportPath)
	opts.dbPath = strings.TrimSpace(opts.dbPath)
	opts.saveConfig = strings.TrimSpace(opts.saveConfig)
	opts.idColumn = strings.TrimSpace(opts.idColumn)

	if opts.inputPath == "" {
		flag.Usage()
		return opts, errors.New("missing required --input file")
	}
	return opts, nil
}

func run(opts cliOptions) error {
	cfg, err := ensemble.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.idColumn != "" {
		cfg.IDColumn = opts.idColumn
	}
	if opts.scores {
		cfg.IncludeScores = true
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	pipeline, err := ensemble.NewPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	if opts.saveConfig != "" {
		if err := ensemble.SaveConfig(opts.saveConfig, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		logger.Printf("Config saved to %s", opts.saveConfig)
	}

	table, err := ensemble.ParsePredictionTable(opts.inputPath, pipeline.TableOptions())
	if err != nil {
		return fmt.Errorf("read prediction table: %w", err)
	}
	if len(table.Records) == 0 {
		return errors.New("prediction table does not contain any samples")
	}

	out, err := pipeline.Run(table)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	outputPath, err := resolveOutputPath(opts.outputPath, opts.outputDir)
	if err != nil {
		return err
	}
	if err := ensemble.WriteResults(outputPath, out, cfg.IncludeScores); err != nil {
		return err
	}
	logger.Printf("Run %s: wrote %d samples to %s", out.RunID, len(out.Records), outputPath)

	report, err := out.Evaluate()
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, report); err != nil {
			return err
		}
	}

	if opts.dbPath != "" {
		store, err := ensemble.OpenResultStore(opts.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveRun(context.Background(), out, pipeline.Config()); err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
		logger.Printf("Run %s archived in %s", out.RunID, opts.dbPath)
	}

	if opts.stdout {
		printSummary(out)
		fmt.Println()
		if err := report.WriteSummary(os.Stdout); err != nil {
			return err
		}
	}
	return nil
}

func resolveOutputPath(path, dir string) (string, error) {
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve output path: %w", err)
		}
		return absPath, nil
	}
	if dir == "" {
		dir = "csv"
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	filename := fmt.Sprintf("ensemble_%s.csv", time.Now().Format("20060102150405"))
	return filepath.Join(absDir, filename), nil
}

func writeReport(path string, report *ensemble.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printSummary(out *ensemble.Output) {
	rows, err := out.Rows(false)
	if err != nil {
		fmt.Println("preview unavailable:", err)
		return
	}
	fmt.Println()
	fmt.Println("==== ensemble preview ====")
	limit := 10
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		row := rows[i]
		parts := make([]string, 0, len(out.Tasks))
		for _, t := range out.Tasks {
			parts = append(parts, fmt.Sprintf("%s=%s", t.Task, row.Labels[t.Task]))
		}
		fmt.Printf("%d. %s  %s\n", i+1, summarizeRow(row), strings.Join(parts, "  "))
	}
	if len(rows) > limit {
		fmt.Printf("... %d more\n", len(rows)-limit)
	}
}

func summarizeRow(row ensemble.ResultRow) string {
	title := strings.TrimSpace(row.Title)
	if title == "" {
		return "#" + row.SampleID
	}
	runes := []rune(title)
	if len(runes) > 40 {
		title = string(runes[:40]) + "…"
	}
	return fmt.Sprintf("#%s %s", row.SampleID, title)
}
