// Package assertions evaluates expect steps against the output of a script.
//
// Supported subjects:
//   - stdout, stderr: the output of the last exec step
//   - stdout.<path>: a gjson path into stdout parsed as JSON
//   - exitCode, duration: exit status and wall time of the last exec step
//   - rows, rows.<path>: the result set of the last query step
//   - var.<name>: a captured value or variable
//
// Operators: ==, !=, >, >=, <, <=, contains, startsWith, endsWith, matches,
// exists, length, includes, in, type, each, schema and their negations.
package assertions
