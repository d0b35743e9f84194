// Package chat runs the live chat side of the monitor.
//
// It provides:
//   - Poller: fetches new live chat messages for the resolved stream, honoring
//     the server-advised polling interval as a floor. A rejected chat id (403 or
//     404) clears the chat and the session cache so the next cycle re-resolves.
//   - Sender: posts outbound messages with a minimum spacing between sends,
//     stretched under throttle pressure.
//   - Outbox: FIFO of outbound messages with optional NotBefore times.
//   - Monitor: the single cooperative control loop (resolve, poll, hand off,
//     send, wait) and the status document served over HTTP.
//
// Every remote call goes through the per-operation circuit breaker and the
// credential rotator supplied in stream.Deps.
package chat
