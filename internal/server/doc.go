// Package server is the WebSocket transport for the presence relay.
//
// A single Hub owns every open connection and the relay engine. Clients decode
// JSON frames into relay events and hand them to the hub's run loop, which
// processes them one at a time and writes the resulting events to the
// clients' buffered send queues.
package server
