package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/maegashira/maegashira/internal/routing"
)

// runCheck implements `maegashira check --file <path>`: load the file,
// parse it as JSON, and validate it against the routing-table schema
// without starting anything (§6).
func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	file := fs.String("file", "", "routing table JSON file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("check: --file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}

	if errs := routing.ValidateJSON(raw); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.String())
		}
		return fmt.Errorf("check: %s failed validation (%d error(s))", *file, len(errs))
	}

	var table routing.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("check: %s is not valid JSON: %w", *file, err)
	}

	fmt.Printf("check: %s is a valid routing table (%d route(s))\n", *file, len(table))
	return nil
}
