// Package version holds the engine and store schema versions.
package version

import (
	"fmt"
	version2 "github.com/hashicorp/go-version"
)

// Version is the engine release. It is overwritten at link time for release builds.
var Version = "v0.1.0"

// SchemaVersion is the store schema this engine writes.
var SchemaVersion = version2.Must(version2.NewVersion("v1.0.0"))

// MinSchemaVersion is the oldest store schema this engine can read without migrating.
var MinSchemaVersion = version2.Must(version2.NewVersion("v1.0.0"))

// CheckSchema reports whether a schema version recorded in a store can be used by this engine.
// A store written by a newer major or minor schema is refused.
func CheckSchema(recorded string) (compatible bool, needsMigration bool, err error) {
	v, err := version2.NewVersion(recorded)
	if err != nil {
		return false, false, fmt.Errorf("parse schema version %q: %w", recorded, err)
	}
	if v.GreaterThan(SchemaVersion) {
		return false, false, nil
	}
	return true, v.LessThan(SchemaVersion) || v.LessThan(MinSchemaVersion), nil
}
