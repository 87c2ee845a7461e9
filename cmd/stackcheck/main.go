// Package main provides the stackcheck binary, a descriptor linter.
//
// stackcheck parses a compose-style deployment descriptor and runs the
// same structural validation the server applies at registration: pinned
// image tags, acyclic service dependencies, distinct host ports, and
// config mount checks. Findings go to stdout (or JSON with -json); the
// exit code is 0 for a clean descriptor, 1 for findings, 2 for a
// descriptor that does not parse at all.
//
// Usage:
//
//	stackcheck [-json] <descriptor.yaml>
//	stackcheck [-json] -    (read from stdin)
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/artpar/flowstack/internal/core/stack"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	exitClean      = 0
	exitFindings   = 1
	exitParseError = 2
)

// report is the -json output shape.
type report struct {
	File     string   `json:"file"`
	Services []string `json:"services,omitempty"`
	Findings []string `json:"findings"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stackcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "Emit findings as JSON")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitParseError
	}

	if *showVersion {
		fmt.Fprintf(stdout, "stackcheck %s (built %s)\n", Version, BuildTime)
		return exitClean
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: stackcheck [-json] <descriptor.yaml>")
		return exitParseError
	}

	file := fs.Arg(0)
	content, err := readDescriptor(file, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "stackcheck: %v\n", err)
		return exitParseError
	}

	spec, err := stack.ParseStackSpec(string(content))
	if err != nil {
		fmt.Fprintf(stderr, "stackcheck: %s: %v\n", file, err)
		return exitParseError
	}

	findings := stack.ValidateStackSpec(spec)
	messages := make([]string, 0, len(findings))
	for _, f := range findings {
		messages = append(messages, f.Error())
	}

	if *jsonOut {
		json.NewEncoder(stdout).Encode(report{
			File:     file,
			Services: spec.ServiceNames(),
			Findings: messages,
		})
	} else {
		for _, msg := range messages {
			fmt.Fprintf(stdout, "%s: %s\n", file, msg)
		}
		if len(messages) == 0 {
			fmt.Fprintf(stdout, "%s: ok (%d services)\n", file, len(spec.Services))
		}
	}

	if len(findings) > 0 {
		return exitFindings
	}
	return exitClean
}

func readDescriptor(file string, stdin io.Reader) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}
