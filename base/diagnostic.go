package base

// DiagnosticSink is where the worker reports its own operational errors.
//
// It is deliberately a different handle than the one an application might be
// forwarding through this very pipeline, so that a connect failure can be
// logged without re-entering the handler that is failing to connect.
type DiagnosticSink interface {
	// Emit reports one diagnostic event for the given fingerprint (e.g. "connect.refused",
	// "tls.handshake"). The sink consults its own rate limiter and may append a
	// suppression notice to message before logging it.
	Emit(level string, fingerprint string, message string)
}
