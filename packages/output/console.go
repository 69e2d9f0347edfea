package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatResult(result *suite.FileResult) {
	bold := color.New(color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s", bold("Running: "+result.File))
	if f.verbose && result.WorkerID != "" {
		fmt.Fprintf(f.writer, " %s", faint("(worker "+result.WorkerID+")"))
	}
	fmt.Fprintf(f.writer, "\n\n")

	f.writeTree(&result.ResultTree, 1)

	fmt.Fprintf(f.writer, "\n")
	f.writeCounts("Tests: ", result.Passed, result.Failed, result.Skipped)
	fmt.Fprintf(f.writer, "Time:  %dms\n", result.Duration)
}

func (f *ConsoleFormatter) writeTree(tree *suite.ResultTree, depth int) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	indent := strings.Repeat("  ", depth)

	for _, t := range tree.Tests {
		switch t.Status {
		case suite.StatusSkipped:
			fmt.Fprintf(f.writer, "%s%s %s", indent, yellow("-"), t.Name)
			if t.Error != "" {
				fmt.Fprintf(f.writer, " (%s)", t.Error)
			}
			fmt.Fprintf(f.writer, "\n")
		case suite.StatusPassed:
			fmt.Fprintf(f.writer, "%s%s %s %s\n", indent, green("✓"), t.Name, cyan(fmt.Sprintf("(%dms)", t.Duration)))
		default:
			fmt.Fprintf(f.writer, "%s%s %s %s\n", indent, red("✗"), t.Name, cyan(fmt.Sprintf("(%dms)", t.Duration)))
			if t.Error != "" {
				for _, line := range strings.Split(t.Error, "\n") {
					fmt.Fprintf(f.writer, "%s    %s %s\n", indent, red("→"), line)
				}
			}
		}
	}

	for _, child := range tree.Suites {
		fmt.Fprintf(f.writer, "%s%s\n", indent, child.Name)
		f.writeTree(child, depth+1)
	}
}

func (f *ConsoleFormatter) writeCounts(label string, passed, failed, skipped int) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(f.writer, "%s", label)
	if passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", passed)))
	}
	if failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", failed)))
	}
	if skipped > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d skipped", skipped)))
	}
	fmt.Fprintf(f.writer, "%d total\n", passed+failed+skipped)
}

// Flush prints the run summary.
func (f *ConsoleFormatter) Flush(agg *suite.Aggregate) error {
	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n", bold("Summary"))
	failedFiles := 0
	for _, file := range agg.Files {
		if file.Failed > 0 {
			failedFiles++
		}
	}
	if failedFiles > 0 {
		fmt.Fprintf(f.writer, "Files: %s, %d total\n", red(fmt.Sprintf("%d failed", failedFiles)), len(agg.Files))
	} else {
		fmt.Fprintf(f.writer, "Files: %d total\n", len(agg.Files))
	}
	f.writeCounts("Tests: ", agg.Passed, agg.Failed, agg.Skipped)
	fmt.Fprintf(f.writer, "Time:  %dms\n", agg.Duration)
	return nil
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("minitest"), version)
}
