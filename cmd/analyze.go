package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/topic-cli/internal/export"
	"github.com/sells-group/topic-cli/internal/model"
	"github.com/sells-group/topic-cli/internal/pipeline"
	"github.com/sells-group/topic-cli/internal/tasks"
)

// analyzeOptions holds the analyze command's input and output flags.
type analyzeOptions struct {
	Texts          []string
	Input          string
	Column         int
	SkipHeader     bool
	Sheet          string
	Encoding       string
	Image          string
	Output         string
	Format         string
	SkipGeneration bool
}

var analyzeOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Decompose posts and generate headlines",
	Long: `Builds one task per blank-line separated text block, spreadsheet cell or image,
runs the decompose and generate stages for each in order, and writes the rows
to an XLSX workbook (default) or JSON.`,
	Example: `  topic-cli analyze --text posts.txt
  pbpaste | topic-cli analyze --text - --format json
  topic-cli analyze --input posts.csv --encoding gbk --column 2 --output out.xlsx
  topic-cli analyze --input headerless.xlsx --skip-header=false
  topic-cli analyze --image cover.png`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := validateFormat(analyzeOpts.Format); err != nil {
			return err
		}

		env, err := initPipeline("analyze")
		if err != nil {
			return err
		}

		taskList, err := collectTasks(analyzeOpts, cmd.InOrStdin(), cfg.Pipeline.MinBlockRunes)
		if err != nil {
			return err
		}
		if len(taskList) == 0 {
			return eris.New("analyze: no tasks (use --text, --input or --image; blocks under 5 characters are skipped)")
		}

		var runOpts []pipeline.RunOption
		if analyzeOpts.SkipGeneration {
			runOpts = append(runOpts, pipeline.WithSkipGeneration(true))
		}

		zap.L().Info("analyze: starting", zap.Int("tasks", len(taskList)))
		result, runErr := env.Session.Analyze(ctx, cfg.Gemini.Key, taskList, logProgress, runOpts...)
		if result == nil {
			return eris.Wrap(runErr, "analyze")
		}

		path, err := writeResults(cmd.OutOrStdout(), env.Session.Rows(), analyzeOpts.Output, analyzeOpts.Format, time.Now())
		if err != nil {
			return err
		}
		printSummary(cmd.ErrOrStderr(), result, path)

		if runErr != nil {
			return eris.Wrap(runErr, "analyze: batch halted")
		}
		return nil
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringArrayVar(&analyzeOpts.Texts, "text", nil, "text file with posts separated by blank lines (\"-\" reads stdin, repeatable)")
	f.StringVar(&analyzeOpts.Input, "input", "", "spreadsheet with one post per row (.xlsx or .csv)")
	f.IntVar(&analyzeOpts.Column, "column", 1, "1-based spreadsheet column holding the post text")
	f.BoolVar(&analyzeOpts.SkipHeader, "skip-header", true, "treat the first spreadsheet row as a header (--skip-header=false to analyze it)")
	f.StringVar(&analyzeOpts.Sheet, "sheet", "", "xlsx sheet name (default first sheet)")
	f.StringVar(&analyzeOpts.Encoding, "encoding", "", "csv charset, e.g. gbk (default utf-8)")
	f.StringVar(&analyzeOpts.Image, "image", "", "image of a post to analyze")
	f.StringVar(&analyzeOpts.Output, "output", "", "output path (\"-\" for stdout; default 小红书选题_<unix>.xlsx, or stdout for json)")
	f.StringVar(&analyzeOpts.Format, "format", "xlsx", "output format: xlsx or json")
	f.BoolVar(&analyzeOpts.SkipGeneration, "skip-generation", false, "stop after the decompose stage")
	rootCmd.AddCommand(analyzeCmd)
}

func validateFormat(format string) error {
	switch format {
	case "xlsx", "json":
		return nil
	default:
		return eris.Errorf("analyze: unsupported format %q (want xlsx or json)", format)
	}
}

// collectTasks builds the task queue in flag order: text files, then
// spreadsheet rows, then the image.
func collectTasks(opts analyzeOptions, stdin io.Reader, minRunes int) ([]model.Task, error) {
	var out []model.Task

	for _, path := range opts.Texts {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "analyze: read text %s", path)
		}
		out = append(out, tasks.FromText(string(data), minRunes)...)
	}

	if opts.Input != "" {
		if opts.Column < 1 {
			return nil, eris.Errorf("analyze: --column must be >= 1, got %d", opts.Column)
		}
		rows, err := tasks.ReadSpreadsheet(opts.Input, tasks.SheetOptions{
			SheetName: opts.Sheet,
			Encoding:  opts.Encoding,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, tasks.FromRows(rows, opts.Column-1, opts.SkipHeader, minRunes)...)
	}

	if opts.Image != "" {
		task, err := tasks.FromImageFile(opts.Image)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}

	return out, nil
}

func logProgress(done, total int) {
	zap.L().Info("analyze: progress", zap.String("progress", fmt.Sprintf("%d of %d", done, total)))
}

// writeResults writes rows to output in format and returns where they went.
// JSON without an output path goes to stdout; XLSX gets a timestamped file.
func writeResults(stdout io.Writer, rows []model.ResultRow, output, format string, now time.Time) (string, error) {
	if output == "" && format == "xlsx" {
		output = export.DefaultFileName(now)
	}

	write := export.WriteXLSX
	if format == "json" {
		write = export.WriteJSON
	}

	if output == "" || output == "-" {
		if err := write(stdout, rows); err != nil {
			return "", err
		}
		return "stdout", nil
	}

	f, err := os.Create(output)
	if err != nil {
		return "", eris.Wrapf(err, "analyze: create %s", output)
	}
	if err := write(f, rows); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "analyze: close %s", output)
	}
	return output, nil
}

// printSummary writes per-state row counts, token usage and the output path.
func printSummary(w io.Writer, result *pipeline.RunResult, path string) {
	counts := make(map[model.TaskState]int)
	for _, r := range result.Rows {
		counts[r.State]++
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Rows:\t%d\n", len(result.Rows))
	for _, s := range []model.TaskState{
		model.TaskStateComplete,
		model.TaskStateGenerationSkipped,
		model.TaskStateGenerationFailed,
		model.TaskStateAnalysisFailed,
		model.TaskStateHalted,
	} {
		if counts[s] > 0 {
			fmt.Fprintf(tw, "  %s:\t%d\n", export.StateLabel(s), counts[s])
		}
	}
	fmt.Fprintf(tw, "Calls:\t%d\n", result.Usage.Calls)
	fmt.Fprintf(tw, "Tokens:\t%d in / %d out\n", result.Usage.InputTokens, result.Usage.OutputTokens)
	fmt.Fprintf(tw, "Cost:\t$%.4f\n", result.Usage.Cost)
	fmt.Fprintf(tw, "Output:\t%s\n", path)
	_ = tw.Flush()

	if n := counts[model.TaskStateHalted]; n > 0 {
		fmt.Fprintf(w, "%d task(s) were not attempted; see the 诊断 column.\n", n)
	}
}
