package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/cabinet-quote/internal/rules"
)

// rulescheck validates a business rules YAML document before it is deployed.
// Exit code 0 = ok, 1 = violation, 2 = other error.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rulescheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", "config/rules.yaml", "rules document to validate")
	defaults := fs.Bool("defaults", false, "print the built-in rules as YAML and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *defaults {
		raw, err := yaml.Marshal(rules.Default())
		if err != nil {
			fmt.Fprintf(stderr, "rulescheck error: %v\n", err)
			return 2
		}
		_, _ = stdout.Write(raw)
		return 0
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(stderr, "rulescheck error: %v\n", err)
		return 2
	}
	doc, err := rules.DecodeYAML(raw)
	if err != nil {
		fmt.Fprintf(stderr, "rulescheck error: %v\n", err)
		return 2
	}
	if err := rules.Validate(doc); err != nil {
		var cfgErr *rules.ConfigurationError
		if !errors.As(err, &cfgErr) {
			fmt.Fprintf(stderr, "rulescheck error: %v\n", err)
			return 2
		}
		for _, v := range cfgErr.Violations {
			fmt.Fprintf(stderr, "VIOLATION: %s\n", v)
		}
		return 1
	}
	fmt.Fprintf(stdout, "rulescheck: OK (version %d)\n", doc.Version)
	return 0
}
