package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/manifest"
)

// runValidateManifestCmd parses a YAML-authored manifest file, normalizes
// it through the same legacy-field/schema-version path a stored manifest
// row goes through, and prints the resulting JSON body so an operator can
// review exactly what Execute/Evaluate would see before uploading it.
//
// Exit codes:
//
//	0 = manifest parses and normalizes clean
//	1 = manifest is invalid (bad YAML, incompatible schema_version, ...)
//	2 = runtime error (missing/unreadable file)
func runValidateManifestCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate-manifest", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var file string
	cmd.StringVar(&file, "file", "", "Path to a YAML manifest document (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read manifest file: %v\n", err)
		return 2
	}

	m, err := manifest.ParseYAML(data)
	if err != nil {
		fmt.Fprintf(stdout, "FAILED: %v\n", err)
		return 1
	}

	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: encode normalized manifest: %v\n", err)
		return 2
	}
	fmt.Fprintln(stdout, string(encoded))
	fmt.Fprintf(stdout, "OK: manifest %q for tenant %q normalizes clean\n", m.ManifestID, m.Tenant)
	return 0
}
