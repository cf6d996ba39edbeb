// Package api exposes task submission, status polling and revocation over
// HTTP, plus health and metrics endpoints. Handlers translate HTTP requests
// into task runner calls and map internal errors to safe responses.
package api
