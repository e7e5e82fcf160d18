package netio

// Metrics is the subset of the metrics registry the connection
// multiplexer updates directly.
type Metrics interface {
	IncConnectionsTotal()
	SetConnectionsActive(n int)
	IncConnectionsFailed()
	IncRequestsTotal(op string)
	ObserveRequestDuration(op string, seconds float64)
	IncOutboxDropped()
}
