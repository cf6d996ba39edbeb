// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic, allowing business rules to remain
// independent of specific database technologies or persistence details.
//
// The task store lives with the task package; this package holds the shared
// error vocabulary, the DBTX abstraction, transaction helpers and the stores
// touched by event handlers and work functions.
package store
