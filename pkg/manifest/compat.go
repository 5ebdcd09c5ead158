package manifest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SupportedSchemaConstraint is the range of manifest schema_version values
// this build of the engine knows how to normalize and evaluate. A manifest
// outside this range is refused at selection time rather than evaluated
// against rules it may not satisfy.
const SupportedSchemaConstraint = ">= 1.0.0, < 3.0.0"

// CheckSchemaCompatibility reports whether a manifest's schema_version
// falls within SupportedSchemaConstraint. An empty schema_version is
// treated as "1.0.0" for manifests predating the field's introduction.
func CheckSchemaCompatibility(schemaVersion string) error {
	if schemaVersion == "" {
		schemaVersion = "1.0.0"
	}

	v, err := semver.NewVersion(schemaVersion)
	if err != nil {
		return fmt.Errorf("manifest: invalid schema_version %q: %w", schemaVersion, err)
	}

	constraint, err := semver.NewConstraint(SupportedSchemaConstraint)
	if err != nil {
		// Constraint is a package constant; a parse failure here is a
		// programming error, not a manifest data error.
		panic(fmt.Sprintf("manifest: invalid built-in schema constraint: %v", err))
	}

	if !constraint.Check(v) {
		return fmt.Errorf("manifest: schema_version %s not supported (requires %s)", v, SupportedSchemaConstraint)
	}
	return nil
}
