// Package notifier delivers monitoring notifications.
//
// Delivery is synchronous: Notify returns once the message was posted (or
// suppressed) so the caller can record a per-channel outcome. Posts are
// throttled by a token bucket.
//
// # Dedup
//
// A notification is keyed by its destination and the ids of the posts it
// reports on. The same key is suppressed for DedupWindow (24h unless
// configured), so a channel with no new relevant posts does not produce the
// same message every cycle. A failed delivery releases its key.
//
// # Mirror
//
// When Telegram is enabled every delivered notification is also sent to a
// Telegram chat. Mirror failures are logged and never fail the delivery.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recently delivered notifications.
package notifier
