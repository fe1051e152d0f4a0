// Package health provides probes and the handlers that serve them for
// liveness and readiness.
//
// Probes compose with [All], [Named] and [WithTimeout]. [CheckFunc] adapts a
// plain function such as a store ping. [ShutdownGate] makes readiness fail
// as soon as shutdown starts.
package health
