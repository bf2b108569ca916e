// Package scanning provides the TCP connect scan engine for PertScan.
//
// A scan takes a ScanRequest (one target host and an inclusive port range)
// and produces a ResultSet with exactly one PortResult per port, ordered by
// port number and enriched with the service name and description from the
// services registry.
//
// # Main Components
//
//   - Prober / TCPProber: tests one (host, port) pair with a full TCP
//     connect under a fixed timeout (3s by default). Any failure reads as
//     closed; a probe never returns an error.
//   - Engine: dispatches one probe job per port to a bounded worker pool
//     (internal/workers). Each job writes into the slot indexed by
//     port-Lo, so the final order does not depend on completion order.
//   - Session: runs one scan at a time on a background goroutine and hands
//     the Completion back through a single-slot channel.
//   - Poller: checks the session on a fixed interval (100ms by default) and
//     delivers the Completion exactly once.
//
// # Usage
//
//	req, err := scanning.ParseScanRequest("127.0.0.1", "1-1023")
//	if err != nil {
//		return err // INVALID_RANGE
//	}
//
//	session := scanning.NewSession(scanning.NewEngine())
//	if _, err := session.Start(ctx, req); err != nil {
//		return err // INVALID_RANGE or SCAN_IN_PROGRESS
//	}
//
//	poller := scanning.NewPoller(session, scanning.DefaultPollInterval)
//	poller.Start(func(c *scanning.Completion) {
//		for _, r := range c.Results.OpenPorts() {
//			fmt.Println(r.Port, r.Name)
//		}
//	})
//
// # Errors
//
// Request validation fails synchronously with INVALID_RANGE, and Start
// refuses with SCAN_IN_PROGRESS while a scan is running. A scan whose
// context ends early completes with a CANCELED error and no results. Probe
// failures and registry misses are not errors.
//
// # Thread Safety
//
// Session and Poller are safe for concurrent use. ScanRequest and
// PortResult are values and are not modified after creation.
package scanning
