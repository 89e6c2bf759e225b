// Package api implements the gateway's websocket hub and its HTTP front end.
//
// Every connection, whether a subscriber console, a peer gateway dialling
// in, or this gateway's own uplink, is a Session in one Hub. Messages are
// JSON envelopes:
//
//	{"type": "auth"|"reauth"|"get"|"set"|"refresh", "token": "...", "data": {...}}
//
// and the hub answers with
//
//	{"type": "update"|"auth"|"error", "data": ...}
//
// Authentication results and errors go to the requesting session only.
// Successful get and set results are broadcast to every session, because
// all state is shared. Error data is {"code", "error", "id"} with codes
// 400, 401, 404, 500 and 502.
//
// Beside the websocket the server exposes:
//
//	GET  /api/v1/health     liveness and counts
//	POST /api/v1/notify     unsolicited reports from remote switches
//	GET  /api/v1/providers  provider ids (bearer token)
//	POST /api/v1/command    HTTP form of a set message (bearer token)
//	GET  /metrics           Prometheus exposition, when enabled
//
// With MQTT configured, broadcast states are mirrored to
// mechabus/state/{id} and reports on mechabus/notify/{id} are treated like
// the notify endpoint.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
