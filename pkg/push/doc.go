// Package push keeps the query cache current from a live server channel.
//
// A Client owns one connection at a time (WebSocket, or SSE as a fallback)
// and runs a single reconnect loop:
//
//	connecting -> open -> closed -> connecting -> ...
//
// Each closure schedules the next dial after min(base*2^attempts, cap); a
// successful open resets attempts. Stop cancels a pending reconnect, closes
// the live connection and freezes the state.
//
// Inbound frames are parsed into Deltas and handed to an Applier, which maps
// payloads through the domain decoders and writes them to the query store.
// Malformed frames are dropped. Failures while applying a delta invalidate
// the whole family instead (reconcile by refetch).
package push
