// Package ciutil centralizes environment detection for tests that need
// external services. Integration tests for the Postgres store and the Redis
// stream transport read their connection URLs through this package and skip
// when none is configured, unless the CI run requires them.
package ciutil
