// Package service contains the insurance work and event reactions that run
// on top of the task and event infrastructure.
//
// Work functions (Work, ReportService) are registered in a task.Registry at
// startup and delegate the domain analysis to an Analyzer. Their event
// mappers decide which results are significant enough to publish.
//
// EventHandlers react to those events by updating applications, claims and
// actuarial analyses. Each handler is idempotent per event ID, and a handler
// that cannot find its record skips the event rather than failing it.
package service
