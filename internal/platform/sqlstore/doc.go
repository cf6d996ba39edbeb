// Package sqlstore implements the task, event log and domain record stores
// on database/sql. It runs on PostgreSQL through pgx and on SQLite for
// local development and tests. Queries use $n placeholders, which both
// drivers accept.
package sqlstore
