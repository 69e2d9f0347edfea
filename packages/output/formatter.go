package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

// Formatter renders file results as they become available.
type Formatter interface {
	FormatResult(result *suite.FileResult)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable is implemented by formatters that write once the run is over.
type Flushable interface {
	Flush(agg *suite.Aggregate) error
}

// Formats lists the names accepted by New.
var Formats = []string{"console", "json", "junit", "tap"}

// Options are shared by all formatters created through New.
type Options struct {
	Verbose bool
	NoColor bool
}

// New returns the formatter called name writing to w.
func New(name string, w io.Writer, opts Options) (Formatter, error) {
	switch name {
	case "", "console":
		return NewConsoleFormatter(WithWriter(w), WithVerbose(opts.Verbose), WithNoColor(opts.NoColor)), nil
	case "json":
		return NewJSONFormatter(JSONWithWriter(w)), nil
	case "junit":
		return NewJUnitFormatter(JUnitWithWriter(w)), nil
	case "tap":
		return NewTAPFormatter(TAPWithWriter(w)), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (expected one of %s)", name, strings.Join(Formats, ", "))
	}
}

// testName joins the enclosing suite names and the test name.
func testName(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, " > ") + " > " + name
}
