// Package testing is blank-imported by package tests so that binaries and config loaders see
// a hermetic environment.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testEnv holds values applied when the variable is unset. LUMEN_TEST_MODE is always forced.
var testEnv = map[string]string{
	"MEETING_URL": "http://127.0.0.1:0",
	"APP_ENV":     "test",
	"LOG_FORMAT":  "pretty",
}

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("LUMEN_TEST_MODE", "1")
		for key, value := range testEnv {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain forces test mode for packages that import this one.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
