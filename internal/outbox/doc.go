// Package outbox delivers webhook events written by the extraction pipeline.
//
// Events are inserted in the same transaction as the state change that
// caused them. The Dispatcher claims due events, POSTs each payload to the
// tenant endpoint and records the outcome on an exponential retry ladder
// separate from the task ladder. Delivery is at-least-once: receivers
// should deduplicate on the X-Webhook-Id header.
package outbox
