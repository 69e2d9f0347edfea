package env

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Func is a built-in function callable from {{name(args)}}.
type Func func(args []string) (any, error)

// Funcs holds the built-in functions available to a resolver.
type Funcs struct {
	funcs map[string]Func
}

// NewFuncs returns the default function set.
func NewFuncs() *Funcs {
	f := &Funcs{funcs: make(map[string]Func)}
	f.funcs["now"] = funcNow
	f.funcs["date"] = funcDate
	f.funcs["timestamp"] = funcTimestamp
	f.funcs["timestampMs"] = funcTimestampMs
	f.funcs["uuid"] = funcUUID
	f.funcs["random"] = funcRandom
	f.funcs["randomString"] = funcRandomString
	f.funcs["base64"] = funcBase64
	f.funcs["sha256"] = funcSHA256
	return f
}

// Register adds or replaces a function.
func (f *Funcs) Register(name string, fn Func) {
	f.funcs[name] = fn
}

var funcCallPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// Call evaluates expr of the form name(arg, ...). The boolean reports whether
// expr named a known function.
func (f *Funcs) Call(expr string) (any, bool, error) {
	matches := funcCallPattern.FindStringSubmatch(expr)
	if matches == nil {
		return nil, false, nil
	}

	fn, ok := f.funcs[matches[1]]
	if !ok {
		return nil, false, nil
	}

	var args []string
	if matches[2] != "" {
		args = splitArgs(matches[2])
	}

	v, err := fn(args)
	return v, true, err
}

func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	quote := byte(0)

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && ch == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}

	if current.Len() > 0 {
		args = append(args, strings.TrimSpace(current.String()))
	}
	return args
}

func funcNow(_ []string) (any, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

func funcDate(args []string) (any, error) {
	format := "2006-01-02"
	if len(args) >= 1 {
		format = args[0]
	}
	return time.Now().UTC().Format(format), nil
}

func funcTimestamp(_ []string) (any, error) {
	return time.Now().Unix(), nil
}

func funcTimestampMs(_ []string) (any, error) {
	return time.Now().UnixMilli(), nil
}

func funcUUID(_ []string) (any, error) {
	return uuid.New().String(), nil
}

func funcRandom(args []string) (any, error) {
	lo, hi := 0, 100
	if len(args) >= 2 {
		var err error
		if lo, err = strconv.Atoi(args[0]); err != nil {
			return nil, err
		}
		if hi, err = strconv.Atoi(args[1]); err != nil {
			return nil, err
		}
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return rand.Intn(hi-lo+1) + lo, nil
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func funcRandomString(args []string) (any, error) {
	length := 16
	if len(args) >= 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, err
		}
		length = n
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return string(b), nil
}

func funcBase64(args []string) (any, error) {
	if len(args) < 1 {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString([]byte(args[0])), nil
}

func funcSHA256(args []string) (any, error) {
	if len(args) < 1 {
		return "", nil
	}
	sum := sha256.Sum256([]byte(args[0]))
	return hex.EncodeToString(sum[:]), nil
}
