// Package uplink maintains the gateway's outbound connection to a peer hub.
//
// The client dials the configured ws:// or wss:// URL, hands the socket to
// the local websocket hub as a peer session and authenticates with the
// peer credential. While connected it re-authenticates a fixed margin
// before the issued token expires.
//
// Lost connections are retried with exponential backoff (see Backoff).
// An expired certificate, ours or the peer's, disables the uplink for the
// life of the process.
package uplink
