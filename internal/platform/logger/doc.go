// Package logger sets up JSON structured logging on log/slog and carries a
// request or job scoped logger and correlation id through context.Context,
// so every line written while handling one message, request or job pass
// can be grouped.
package logger
