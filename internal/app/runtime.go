package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv set to "1" makes the binaries return before dialing Postgres, Redis or the
// meeting companion.
const TestModeEnv = "LUMEN_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether runtime side effects should be skipped. The environment is
// read on first use and cached.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	v := os.Getenv(TestModeEnv) == "1"
	testMode.Store(&v)
	return v
}
