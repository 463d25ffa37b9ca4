// Package audit dispatches token lifecycle events to pluggable sinks.
//
// The Engine decides which events to emit; this package only buffers them
// and relays them off the request path. A full buffer either drops events
// (counted by Dropped) or blocks the caller, depending on Config.DropIfFull.
package audit
