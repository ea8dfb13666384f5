// Package realtime tracks live websocket connections per user and delivers messages to them.
//
// Registry is the only shared state. Gateway admits authenticated sockets into it and
// announces presence changes through it.
package realtime
