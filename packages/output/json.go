package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

// JSONFormatter writes the run aggregate as indented JSON
type JSONFormatter struct {
	writer io.Writer
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(result *suite.FileResult) {
	// Results are written together in Flush
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in individual file results
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the aggregate
func (f *JSONFormatter) Flush(agg *suite.Aggregate) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(agg)
}
