// Package transport defines the EventTransport contract: one HTTP-backed
// adapter per inbound surface (ticket-tracker webhook, chat mention,
// code-host comment), each normalising its own wire format into
// activity.InboundEvent and authenticating requests before they reach the
// Router (spec §4.2).
package transport

import (
	"net/http"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Transport is an inbound event source. Register attaches the transport's
// verification endpoint(s) to the Shared Application Server's mux; Events
// and Errors are the transport's outbound channels, read by cmd/cyrus's
// pumpEvents/pumpErrors loops, which hand each event to the Dispatcher.
type Transport interface {
	Kind() activity.TransportKind
	Register(mux *http.ServeMux)
	Events() <-chan activity.InboundEvent
	Errors() <-chan error
}

// VerifyResult is what an authentication check yields: a transport either
// accepts the request and proceeds to parse it, rejects it with 401, or
// recognises it as a side-channel handshake that must be echoed back
// in-line without reaching the Router (spec §4.2 "URL-verification
// challenges... answered in-line and not forwarded").
type VerifyResult int

const (
	VerifyAccepted VerifyResult = iota
	VerifyRejected
	VerifyHandshake
)
