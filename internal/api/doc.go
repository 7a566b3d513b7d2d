// Package api is the operator HTTP surface of mailpipe. It lets an operator
// enqueue, inspect, cancel and retry extraction tasks and inspect or retry
// webhook outbox events. Handlers translate HTTP into calls on the task and
// outbox services and never leak internal error text to clients.
package api
