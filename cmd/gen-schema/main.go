// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema for the authcore config file.
//
// Usage:
//
//	gen-schema [--output PATH]
//
// An output of "-" writes the schema to stdout.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/config"
)

const defaultOutput = "schemas/config.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	output := fs.StringP("output", "o", defaultOutput, "schema file to write, or - for stdout")
	if err := fs.Parse(args); err != nil {
		return oops.Code("GEN_SCHEMA_USAGE").Wrap(err)
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		return oops.Code("GEN_SCHEMA_FAILED").Wrap(err)
	}

	if *output == "-" {
		_, err := stdout.Write(schema)
		return oops.Code("GEN_SCHEMA_WRITE_FAILED").Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0o750); err != nil {
		return oops.Code("GEN_SCHEMA_WRITE_FAILED").With("path", *output).Wrap(err)
	}
	if err := os.WriteFile(*output, schema, 0o600); err != nil {
		return oops.Code("GEN_SCHEMA_WRITE_FAILED").With("path", *output).Wrap(err)
	}
	fmt.Fprintf(stdout, "Generated %s\n", *output)
	return nil
}
