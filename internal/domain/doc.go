// Package domain contains the core entities of the extraction pipeline:
// extraction tasks, webhook outbox events, the completion payload sent to
// tenants, and the state machines that govern how tasks and events move
// between statuses. It has no knowledge of storage or transport.
package domain
