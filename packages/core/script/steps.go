package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/assertions"
	"github.com/abdul-hamid-achik/minitest/packages/core/env"
	"github.com/abdul-hamid-achik/minitest/packages/core/parser"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/db"
)

// ExecError is returned when a command exits non-zero and the step does not
// ignore failures.
type ExecError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ErrNoDatabase is returned by query steps in files without an @db directive.
var ErrNoDatabase = errors.New("query step requires an @db directive")

// stepState is the output of the steps of one body invocation.
type stepState struct {
	out assertions.Output
}

func (fx *fileContext) body(steps []*parser.Step) suite.Func {
	return func(ctx context.Context) error {
		st := &stepState{}
		for _, step := range steps {
			if err := fx.runStep(ctx, st, step); err != nil {
				var failure *assertions.Failure
				if errors.Is(err, suite.ErrSkip) || errors.As(err, &failure) {
					return err
				}
				return fmt.Errorf("line %d: %s: %w", step.Line, step.Kind, err)
			}
		}
		return nil
	}
}

func (fx *fileContext) evaluator(st *stepState) *assertions.Evaluator {
	return assertions.NewEvaluator(&st.out,
		assertions.WithBaseDir(fx.baseDir),
		assertions.WithLookup(fx.resolver.Lookup),
	)
}

func (fx *fileContext) runStep(ctx context.Context, st *stepState, step *parser.Step) error {
	switch step.Kind {
	case parser.StepExec:
		return fx.exec(ctx, st, step)
	case parser.StepExpect:
		a := *step.Assertion
		a.Expected = fx.resolveValue(a.Expected)
		return fx.evaluator(st).Check(&a)
	case parser.StepCapture:
		v, err := fx.evaluator(st).Value(step.Value)
		if err != nil {
			return err
		}
		fx.resolver.SetCapture(step.Arg, v)
		return nil
	case parser.StepSet:
		fx.resolver.SetVariable(step.Arg, fx.resolver.Resolve(step.Value))
		return nil
	case parser.StepSleep:
		timer := time.NewTimer(step.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case parser.StepLog:
		fx.logger.Info(fx.resolver.Resolve(step.Arg), "line", step.Line)
		return nil
	case parser.StepQuery:
		return fx.query(ctx, st, step)
	case parser.StepFail:
		return errors.New(fx.resolver.Resolve(step.Arg))
	case parser.StepSkip:
		return suite.Skip(fx.resolver.Resolve(step.Arg))
	}
	return fmt.Errorf("unsupported step %s", step.Kind)
}

// resolveValue interpolates string operands, including those nested in
// arrays and each-operator maps.
func (fx *fileContext) resolveValue(v any) any {
	switch val := v.(type) {
	case string:
		return fx.resolver.Resolve(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fx.resolveValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = fx.resolveValue(item)
		}
		return out
	}
	return v
}

func (fx *fileContext) exec(ctx context.Context, st *stepState, step *parser.Step) error {
	command := fx.resolver.Resolve(step.Arg)

	cmd := exec.CommandContext(ctx, fx.shell, "-c", command)
	cmd.Dir = fx.baseDir
	cmd.Env = env.Environ(fx.resolver.DotEnv())
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	st.out = assertions.Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Rows:     st.out.Rows,
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("running %q: %w", command, err)
		}
		st.out.ExitCode = exitErr.ExitCode()
	}

	if st.out.ExitCode != 0 && !step.IgnoreFailure {
		return &ExecError{
			Command:  command,
			ExitCode: st.out.ExitCode,
			Stderr:   string(bytes.TrimSpace(stderr.Bytes())),
		}
	}
	return nil
}

func (fx *fileContext) query(ctx context.Context, st *stepState, step *parser.Step) error {
	if fx.dbConn == "" {
		return ErrNoDatabase
	}

	client, err := db.NewClient(ctx, fx.dbConn, db.WithBaseDir(fx.baseDir))
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Run(ctx, fx.resolver.Resolve(step.Arg))
	if err != nil {
		return err
	}

	st.out.Rows = res.Rows
	if res.Columns == nil {
		st.out.Rows = []map[string]any{{"rowsAffected": res.RowsAffected}}
	}
	return nil
}
