// Package parser parses minitest scripts (.mt files).
//
// A script is a tree of describe blocks, tests and hooks whose bodies are
// sequences of steps:
//
//	@db sqlite://fixtures.db
//	set greeting = "hello"
//
//	describe "math" {
//	  beforeEach { exec "./reset.sh" }
//	  test "adds" timeout 200ms {
//	    exec "echo '{\"sum\": 3}'"
//	    expect stdout.sum == 3
//	  }
//	  test "later" skip "not implemented"
//	}
//
// Comments start with # or //. Errors are reported as *ParseError carrying
// file, line and column.
package parser
