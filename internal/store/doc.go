// Package store defines the persistence contracts of the extraction pipeline:
// the task queue, the webhook outbox, and the read-mostly views of emails
// owned by other services. Implementations live in internal/platform/postgres.
package store
