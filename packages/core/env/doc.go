// Package env handles variables and interpolation for minitest scripts.
//
// It provides functionality for:
//   - Loading env files for exec steps (KEY=value, quoted values, comments)
//   - Variable interpolation using {{variable}} syntax
//   - {{$NAME}} lookups against the env file, then the process environment
//   - Built-in functions such as {{uuid()}}, {{timestamp()}} and {{now()}}
//   - Values captured by earlier steps of the same file
package env
