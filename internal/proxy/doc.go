// Package proxy forwards inbound requests to registered services.
//
// A call runs through five steps: route match, circuit breaker gate,
// registry discovery, forward with a bounded deadline, and classification.
// Status codes below 500 are relayed verbatim and count as breaker
// successes. Connection errors, timeouts and 5xx responses count as
// failures. Every gateway-generated error uses the same JSON envelope.
//
// The Do primitive is shared with the aggregator, which issues several
// calls concurrently through the same breakers.
package proxy
