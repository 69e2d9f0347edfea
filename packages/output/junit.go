package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

// JUnit XML structures

// JUnitTestSuites is the root element
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a test suite (one file)
type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase represents a single test case
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a test failure
type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitError represents a file that could not be loaded
type JUnitError struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitSkipped represents a skipped test
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter formats test results as JUnit XML
type JUnitFormatter struct {
	writer     io.Writer
	testSuites []JUnitTestSuite
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{
		writer:     os.Stdout,
		testSuites: make([]JUnitTestSuite, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

func (f *JUnitFormatter) FormatResult(result *suite.FileResult) {
	ts := JUnitTestSuite{
		Name:      result.File,
		Tests:     result.Total(),
		Failures:  result.Failed,
		Skipped:   result.Skipped,
		Time:      msToSeconds(result.Duration),
		Timestamp: time.Now().Format(time.RFC3339),
		TestCases: make([]JUnitTestCase, 0, result.Total()),
	}

	result.Walk(func(path []string, t suite.TestResult) {
		tc := JUnitTestCase{
			Name:      t.Name,
			ClassName: className(result.File, path),
			Time:      msToSeconds(t.Duration),
		}

		switch {
		case t.Status == suite.StatusSkipped:
			tc.Skipped = &JUnitSkipped{Message: t.Error}
		case t.Status == suite.StatusFailed && result.Error != "":
			// the file never ran; report it as an error rather than a failure
			ts.Errors++
			ts.Failures--
			tc.Error = &JUnitError{
				Message: firstLine(t.Error),
				Type:    "LoadError",
				Content: t.Error,
			}
		case t.Status == suite.StatusFailed:
			tc.Failure = &JUnitFailure{
				Message: firstLine(t.Error),
				Type:    "AssertionError",
				Content: t.Error,
			}
		}

		ts.TestCases = append(ts.TestCases, tc)
	})

	f.testSuites = append(f.testSuites, ts)
}

func (f *JUnitFormatter) FormatError(err error) {
	// Errors are included in individual test cases
}

func (f *JUnitFormatter) FormatHeader(version string) {
	// No header needed for JUnit XML
}

// Flush writes the accumulated JUnit XML output
func (f *JUnitFormatter) Flush(agg *suite.Aggregate) error {
	var totalTests, totalFailures, totalErrors, totalSkipped int
	for _, ts := range f.testSuites {
		totalTests += ts.Tests
		totalFailures += ts.Failures
		totalErrors += ts.Errors
		totalSkipped += ts.Skipped
	}

	suites := JUnitTestSuites{
		Name:       "minitest",
		Tests:      totalTests,
		Failures:   totalFailures,
		Errors:     totalErrors,
		Skipped:    totalSkipped,
		Time:       msToSeconds(agg.Duration),
		Timestamp:  time.Now().Format(time.RFC3339),
		TestSuites: f.testSuites,
	}

	fmt.Fprintf(f.writer, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	if err := encoder.Encode(suites); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.writer)
	return err
}

func className(file string, path []string) string {
	if len(path) == 0 {
		return file
	}
	return file + " > " + strings.Join(path, " > ")
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
