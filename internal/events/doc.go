// Package events provides the durable event envelope and its producer and
// consumer sides.
//
// The primary components are:
// - Event: the immutable envelope appended to a stream topic
// - Publisher: appends envelopes to the transport and keeps a best-effort event log copy
// - Listener: a consumer-group loop that dispatches envelopes to handlers and
//   acknowledges them only after the handler succeeds
// - Dispatcher: the in-process registry routing an event type to its handlers
package events
