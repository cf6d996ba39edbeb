// Package task runs long-running domain work in the background and tracks
// each unit of work through its lifecycle in a Store.
//
// A Runner accepts submissions, records them as PENDING and queues a Job.
// Workers take jobs from the Queue and hand them to the Executor, which
// marks the task STARTED, runs the registered WorkFunc and records SUCCESS
// or FAILURE. A successful result may map to an event that is published for
// listeners to react to.
package task
