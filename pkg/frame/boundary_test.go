package frame_test

import (
	"testing"

	"odmcore/testutil"
)

// TestPublicPackageBoundaries keeps the frame importable without pulling
// internal packages or storage drivers.
func TestPublicPackageBoundaries(t *testing.T) {
	testutil.Boundary{
		Reason:    "pkg/frame stays free of internal packages and drivers",
		Forbidden: testutil.AnyOf(testutil.InternalImport, testutil.DriverImport),
	}.CheckDirect(t, ".")
	testutil.Boundary{
		Reason:    "pkg/frame must not depend on storage drivers",
		Forbidden: testutil.DriverImport,
	}.CheckTransitive(t, ".")
}
