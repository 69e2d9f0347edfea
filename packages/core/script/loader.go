package script

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/minitest/packages/core/env"
	"github.com/abdul-hamid-achik/minitest/packages/core/parser"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

// Extension is the file extension of test scripts.
const Extension = ".mt"

// DefaultShell runs exec steps.
const DefaultShell = "sh"

// Loader evaluates .mt scripts against a session. It is safe for concurrent use.
type Loader struct {
	envFile string
	shell   string
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvFile loads variables for exec steps and {{$NAME}} lookups from path
// on every Load.
func WithEnvFile(path string) Option {
	return func(l *Loader) {
		l.envFile = path
	}
}

// WithShell overrides DefaultShell.
func WithShell(shell string) Option {
	return func(l *Loader) {
		if shell != "" {
			l.shell = shell
		}
	}
}

// WithLogger sets the logger receiving log steps and interpolation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a script loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		shell:  DefaultShell,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.Component(l.logger, "script")
	return l
}

// Load parses path and declares its suites, tests and hooks on s.
func (l *Loader) Load(ctx context.Context, path string, s *suite.Session) error {
	file, err := Check(path)
	if err != nil {
		return err
	}

	fx, err := l.newFileContext(path, file)
	if err != nil {
		return err
	}
	return fx.declare(s, file.Items)
}

// Check parses path and validates its directives without declaring anything.
func Check(path string) (*parser.File, error) {
	file, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	for _, d := range file.Directives {
		if err := checkDirective(path, d); err != nil {
			return nil, err
		}
	}
	return file, nil
}

func checkDirective(path string, d *parser.Directive) error {
	switch d.Name {
	case "db", "env", "shell":
		if strings.TrimSpace(d.Value) == "" {
			return &parser.ParseError{File: path, Line: d.Line, Column: d.Column, Message: fmt.Sprintf("@%s needs a value", d.Name)}
		}
		return nil
	}
	return &parser.ParseError{File: path, Line: d.Line, Column: d.Column, Message: fmt.Sprintf("unknown directive @%s", d.Name)}
}

// fileContext is the state of one file execution.
type fileContext struct {
	path     string
	baseDir  string
	dbConn   string
	shell    string
	resolver *env.Resolver
	logger   *slog.Logger
}

func (l *Loader) newFileContext(path string, file *parser.File) (*fileContext, error) {
	fx := &fileContext{
		path:     path,
		baseDir:  filepath.Dir(path),
		shell:    l.shell,
		resolver: env.NewResolver(),
		logger:   l.logger.With("file", path),
	}
	fx.resolver.SetWarnFunc(func(format string, args ...any) {
		fx.logger.Warn(fmt.Sprintf(format, args...))
	})

	if l.envFile != "" {
		vars, err := env.LoadDotEnv(l.envFile)
		if err != nil {
			return nil, err
		}
		fx.resolver.SetDotEnv(vars)
	}

	for _, d := range file.Directives {
		value := fx.resolver.Resolve(d.Value)
		switch d.Name {
		case "db":
			fx.dbConn = value
		case "shell":
			fx.shell = value
		case "env":
			envPath := value
			if !filepath.IsAbs(envPath) {
				envPath = filepath.Join(fx.baseDir, envPath)
			}
			vars, err := env.LoadDotEnv(envPath)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, d.Line, err)
			}
			fx.resolver.SetDotEnv(vars)
		}
	}

	return fx, nil
}

func (fx *fileContext) declare(s *suite.Session, items []parser.Node) error {
	for _, item := range items {
		switch n := item.(type) {
		case *parser.Step:
			// set at file or describe level runs while loading
			fx.resolver.SetVariable(n.Arg, fx.resolver.Resolve(n.Value))
		case *parser.Describe:
			var err error
			s.Describe(n.Name, func() {
				err = fx.declare(s, n.Items)
			})
			if err != nil {
				return err
			}
		case *parser.Test:
			fx.declareTest(s, n)
		case *parser.Hook:
			body := fx.body(n.Steps)
			switch n.Type {
			case parser.HookBeforeAll:
				s.BeforeAll(body)
			case parser.HookAfterAll:
				s.AfterAll(body)
			case parser.HookBeforeEach:
				s.BeforeEach(body)
			case parser.HookAfterEach:
				s.AfterEach(body)
			default:
				return fmt.Errorf("%s:%d: unknown hook %s", fx.path, n.Line, n.Type)
			}
		default:
			return fmt.Errorf("%s: unexpected node %T", fx.path, item)
		}
	}
	return nil
}

func (fx *fileContext) declareTest(s *suite.Session, t *parser.Test) {
	if t.Skip {
		s.Skip(t.Name, t.SkipReason)
		return
	}

	var opts []suite.CaseOption
	if t.Timeout > 0 {
		opts = append(opts, suite.WithTimeout(t.Timeout))
	}
	s.Test(t.Name, fx.body(t.Steps), opts...)
}
