package ciutil

import (
	"os"
	"testing"
)

// RequireService returns url, or ends the test when it is empty: a CI run
// with EnvRequireIntegration set fails, anything else skips.
func RequireService(tb testing.TB, name, url string) string {
	tb.Helper()
	if url != "" {
		return url
	}
	if IsCI() && os.Getenv(EnvRequireIntegration) != "" {
		tb.Fatalf("%s integration tests are required in CI but no URL is configured", name)
	}
	tb.Skipf("%s URL not set, skipping %s integration test", name, name)
	return ""
}
