// Package audio defines the sample types, wire layout, level computation and
// audio-server interfaces used by the autovolume meter.
//
// The audio server is consumed through two narrow interfaces:
//
//   - [Backend]: an event-loop driven connection. State changes and
//     introspection replies are delivered as callbacks that only run while
//     the caller is inside [Backend.Iterate].
//   - [RecordOpener]: opens a blocking record stream on a named source.
//
// Implementations live in adapter packages (audio/pulse for the PulseAudio
// protocol, audio/mock for tests).
package audio

import (
	"context"
	"io"
)

// Backend is a connection to the audio server driven by an explicit event
// loop. Callbacks registered through Backend methods are invoked from within
// Iterate on the caller's goroutine, never concurrently with it.
type Backend interface {
	RecordOpener

	// Connect starts connecting under clientName to server. An empty server
	// selects the default server. Connect does not wait for the connection;
	// progress is observed through State while calling Iterate.
	Connect(clientName, server string) error

	// State returns the current connection state.
	State() ConnState

	// Iterate runs one iteration of the event loop, dispatching at most one
	// pending event. When block is true it waits until an event is available
	// or ctx ends; otherwise it returns immediately when nothing is pending.
	Iterate(ctx context.Context, block bool) error

	// GetServerInfo requests the server-info introspection record. cb is
	// invoked exactly once from a later Iterate call, with either the reply
	// or the request error.
	GetServerInfo(cb func(ServerInfo, error))

	// Close disconnects from the server. It is safe to call more than once.
	Close() error
}

// RecordRequest describes a record stream to open.
type RecordRequest struct {
	// ClientName and StreamName label the stream on the server.
	ClientName string
	StreamName string

	// Server selects the server; empty means the default server.
	Server string

	// Source is the name of the source to record from.
	Source string

	Spec   StreamSpec
	Policy BufferPolicy
}

// RecordStream is an open record stream. Read blocks until some captured
// bytes are available and returns them in the layout described by the
// request's StreamSpec.
type RecordStream interface {
	io.ReadCloser
}

// RecordOpener opens record streams.
type RecordOpener interface {
	OpenRecord(ctx context.Context, req RecordRequest) (RecordStream, error)
}
