// Package connection keeps a client connected to an iiod.
//
// A Manager dials the daemon, watches the binary connection and dials
// again when it is lost, waiting between attempts with an exponential
// backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Each failed attempt doubles the delay
//  3. Maximum delay: 30 seconds
//  4. A successful connection resets the delay
//
// Every delay gets a random extra of up to a quarter of it, so that
// clients of a restarted daemon do not all come back at once:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A connection counts as established once the context description has
// been fetched. Legacy text connections cannot be watched; callers report
// their loss with NotifyConnectionLost.
package connection
