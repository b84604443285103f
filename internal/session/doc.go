// Package session tracks port-forward sessions between this machine and
// pods or services in a cluster.
//
// A Manager keeps the in-memory view of every session consistent with the
// lifecycle events published by the tunnel engine. It exposes a small
// synchronous control surface: StartSession, StopSession, StopAllSessions,
// RefreshSessions, CheckPortAvailable and GetSession, plus the browser-open
// prompt handling (ConfirmOpenBrowser, DismissBrowserDialog).
//
// # Ownership
//
// All state lives on one goroutine. Control calls and lifecycle events are
// queued on the same inbox and applied in arrival order, so two mutations
// of one session can never interleave. Engine calls are made outside that
// goroutine; the engine is free to publish events for a session before its
// Start call returns.
//
// # Lifecycle
//
//	connecting -> connected <-> reconnecting -> connected | disconnected
//	connecting | connected | reconnecting -> error
//	any -> removed (on Stopped)
//
// A Reconnected event is always followed by a Connected event from the
// engine. The second one is absorbed silently so the user sees a single
// "reconnected" notice and no second browser prompt.
//
// # Errors
//
// Engine failures never corrupt the store. They are recorded as the last
// error (LastError) and, for StartSession and StopSession, also returned.
// A failed start leaves no trace of the session; a failed stop leaves the
// session in its last known state.
package session
