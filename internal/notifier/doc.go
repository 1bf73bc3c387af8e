// Package notifier announces finished runs to an operator chat.
//
// A run summary is formatted as plain text, split to the transport's message
// limit and delivered through a Sender (Telegram by default). Delivery is
// rate limited and retried with jittered backoff; a delivery failure never
// fails the run.
//
// For operator visibility the service keeps a small in-memory history of the
// messages it sent.
package notifier
