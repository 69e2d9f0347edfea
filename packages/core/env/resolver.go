package env

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// WarnFunc is a function type for handling warnings
type WarnFunc func(format string, args ...any)

// Resolver handles {{...}} interpolation for one file execution. Access is
// synchronized because a timed-out case body may still be writing captures
// while the next case runs.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]any
	captures  map[string]any
	dotenv    map[string]string
	getenv    func(string) string
	funcs     *Funcs
	warnFunc  WarnFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]any),
		captures:  make(map[string]any),
		dotenv:    make(map[string]string),
		getenv:    os.Getenv,
		funcs:     NewFuncs(),
	}
}

// SetWarnFunc sets a function to be called when warnings occur (e.g., unresolved variables)
func (r *Resolver) SetWarnFunc(fn WarnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnFunc = fn
}

func (r *Resolver) warn(format string, args ...any) {
	r.mu.RLock()
	fn := r.warnFunc
	r.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}

// SetDotEnv installs values loaded from an env file. They shadow the process
// environment for {{$NAME}} lookups.
func (r *Resolver) SetDotEnv(values map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.dotenv[k] = v
	}
}

// DotEnv returns a copy of the env file values.
func (r *Resolver) DotEnv() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.dotenv))
	for k, v := range r.dotenv {
		out[k] = v
	}
	return out
}

func (r *Resolver) SetVariables(vars map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range vars {
		r.variables[k] = v
	}
}

func (r *Resolver) SetVariable(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

// SetCapture stores a value captured by a step. Captures win over variables.
func (r *Resolver) SetCapture(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures[name] = value
}

// Lookup returns a capture or variable by name.
func (r *Resolver) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.captures[name]; ok {
		return v, true
	}
	if v, ok := r.variables[name]; ok {
		return v, true
	}
	return nil, false
}

func (r *Resolver) lookupEnv(name string) (string, bool) {
	r.mu.RLock()
	v, ok := r.dotenv[name]
	getenv := r.getenv
	r.mu.RUnlock()
	if ok {
		return v, true
	}
	if v := getenv(name); v != "" {
		return v, true
	}
	return "", false
}

// Resolve interpolates every {{...}} expression in input. Expressions that
// cannot be resolved are left untouched and reported through the warn func.
func (r *Resolver) Resolve(input string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])

		if strings.HasPrefix(expr, "$") {
			if val, ok := r.lookupEnv(expr[1:]); ok {
				return val
			}
			r.warn("unresolved environment variable: %s", expr)
			return match
		}

		if strings.Contains(expr, "(") {
			result, ok, err := r.funcs.Call(expr)
			if ok && err == nil {
				return fmt.Sprintf("%v", result)
			}
			if err != nil {
				r.warn("function %s failed: %v", expr, err)
			} else {
				r.warn("unresolved function call: %s", expr)
			}
			return match
		}

		if val, ok := r.Lookup(expr); ok {
			return fmt.Sprintf("%v", val)
		}

		r.warn("unresolved variable: %s", expr)
		return match
	})
}

// UnresolvedVariables returns the variable expressions in input that Resolve
// would leave untouched, in order of appearance.
func (r *Resolver) UnresolvedVariables(input string) []string {
	var missing []string
	for _, m := range variablePattern.FindAllStringSubmatch(input, -1) {
		expr := strings.TrimSpace(m[1])
		switch {
		case strings.HasPrefix(expr, "$"):
			if _, ok := r.lookupEnv(expr[1:]); ok {
				continue
			}
		case strings.Contains(expr, "("):
			if _, ok, err := r.funcs.Call(expr); ok && err == nil {
				continue
			}
		default:
			if _, ok := r.Lookup(expr); ok {
				continue
			}
		}
		missing = append(missing, expr)
	}
	return missing
}

// Clone returns an independent copy of r.
func (r *Resolver) Clone() *Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewResolver()
	clone.getenv = r.getenv
	clone.warnFunc = r.warnFunc
	for k, v := range r.variables {
		clone.variables[k] = v
	}
	for k, v := range r.captures {
		clone.captures[k] = v
	}
	for k, v := range r.dotenv {
		clone.dotenv[k] = v
	}
	return clone
}
