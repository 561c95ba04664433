// Package testing puts the process in test mode when a test package imports
// it for side effects. The binaries then skip startup, and CSRF_SECRET gets a
// throwaway value unless the environment already sets one.
package testing

import (
	"os"
	stdtesting "testing"
)

func init() {
	for key, value := range map[string]string{
		"ODYSSEY_TEST_MODE": "1",
		"CSRF_SECRET":       "test-csrf-secret",
	} {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}

// Env sets alternating key, value pairs for the duration of the test.
func Env(t stdtesting.TB, pairs ...string) {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("Env: odd number of arguments: %q", pairs)
	}
	for i := 0; i < len(pairs); i += 2 {
		t.Setenv(pairs[i], pairs[i+1])
	}
}
