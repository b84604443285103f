// Package tunnel forwards local TCP ports to pods using client-go's SPDY
// port-forwarder and keeps each forward alive across pod restarts.
//
// An Engine resolves a pod or service target to a concrete pod and port,
// binds a local listener and publishes lifecycle events for every forward
// on an events.Bus:
//
//	Start:      Started, Connected (both before Start returns)
//	pod gone:   Reconnecting, then Reconnected + Connected or PodDied
//	tunnel err: Reconnecting, then Reconnected + Connected or Error
//	Stop:       Stopped
//
// Rebinding reuses the local port of the original forward so clients only
// see a short interruption.
package tunnel
