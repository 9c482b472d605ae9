// Package events fans sync events out to connected subscribers.
//
// A Registry tracks live subscriber handles. The Dispatcher stamps and
// serializes each event once, then offers it to every handle of a registry
// snapshot; a handle that fails a send is dropped from the registry and
// closed. Sends never block the publisher: websocket handles queue into a
// bounded per-connection buffer drained by their own writer goroutine.
package events
