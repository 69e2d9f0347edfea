// Package script loads .mt test scripts into a suite.Session.
//
// Every Load parses the file from disk again, so two executions of the same
// path never share evaluated state. Variables declared with set and values
// captured by steps live for one file execution.
package script
