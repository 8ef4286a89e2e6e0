// Package mock provides an in-memory implementation of [audio.Backend] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control behaviour.
//
// Typical usage:
//
//	b := &mock.Backend{
//	    States:     []audio.ConnState{audio.StateConnecting, audio.StateReady},
//	    ServerInfo: audio.ServerInfo{DefaultSinkName: "alsa_output.analog-stereo"},
//	    Record:     &mock.RecordStream{Frames: []audio.PcmFrame{make(audio.PcmFrame, 512)}},
//	}
//	sess, err := session.Connect(ctx, b, session.Options{})
package mock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/autovolume/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Backend      = (*Backend)(nil)
	_ audio.RecordStream = (*RecordStream)(nil)
)

// ErrNoEvents is returned by a blocking [Backend.Iterate] when no event is
// queued and no scripted state change remains. A real event loop would block
// forever; tests would rather fail.
var ErrNoEvents = errors.New("mock: event loop has nothing to dispatch")

// ─── Backend ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Backend.Connect] invocation.
type ConnectCall struct {
	ClientName string
	Server     string
}

// Backend is a scripted mock of [audio.Backend].
//
// After Connect, each Iterate call first dispatches one queued callback, if
// any; otherwise it advances to the next entry of States.
type Backend struct {
	mu sync.Mutex

	// States is the sequence of connection states entered by successive
	// Iterate calls after Connect. The last state is sticky.
	States []audio.ConnState

	// ConnectError is returned by Connect.
	ConnectError error

	// ServerInfo and ServerInfoError are delivered to GetServerInfo callbacks.
	ServerInfo      audio.ServerInfo
	ServerInfoError error

	// DropServerInfo, when set, swallows GetServerInfo requests so the
	// callback never fires.
	DropServerInfo bool

	// Record is returned by OpenRecord. OpenErrors are returned, in order,
	// by the first len(OpenErrors) OpenRecord calls.
	Record     audio.RecordStream
	OpenErrors []error

	// Call records.
	ConnectCalls           []ConnectCall
	OpenCalls              []audio.RecordRequest
	CallCountIterate       int
	CallCountGetServerInfo int
	CallCountClose         int

	state   audio.ConnState
	next    int
	pending []func()
}

// Connect implements [audio.Backend].
func (b *Backend) Connect(clientName, server string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ConnectCalls = append(b.ConnectCalls, ConnectCall{ClientName: clientName, Server: server})
	if b.ConnectError != nil {
		b.state = audio.StateFailed
		return b.ConnectError
	}
	b.state = audio.StateConnecting
	return nil
}

// State implements [audio.Backend].
func (b *Backend) State() audio.ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Iterate implements [audio.Backend]. Callbacks run without the mock's lock
// held, on the caller's goroutine.
func (b *Backend) Iterate(ctx context.Context, block bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.CallCountIterate++
	if len(b.pending) > 0 {
		cb := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		cb()
		return nil
	}
	defer b.mu.Unlock()
	if b.next < len(b.States) {
		b.state = b.States[b.next]
		b.next++
		return nil
	}
	if block {
		return ErrNoEvents
	}
	return nil
}

// GetServerInfo implements [audio.Backend].
func (b *Backend) GetServerInfo(cb func(audio.ServerInfo, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountGetServerInfo++
	if b.DropServerInfo {
		return
	}
	info, err := b.ServerInfo, b.ServerInfoError
	b.pending = append(b.pending, func() { cb(info, err) })
}

// OpenRecord implements [audio.RecordOpener].
func (b *Backend) OpenRecord(_ context.Context, req audio.RecordRequest) (audio.RecordStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.OpenCalls)
	b.OpenCalls = append(b.OpenCalls, req)
	if n < len(b.OpenErrors) && b.OpenErrors[n] != nil {
		return nil, b.OpenErrors[n]
	}
	if b.Record == nil {
		return nil, errors.New("mock: no record stream configured")
	}
	return b.Record, nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountClose++
	b.state = audio.StateTerminated
	return nil
}

// ─── RecordStream ────────────────────────────────────────────────────────────

// RecordStream is a mock [audio.RecordStream] that serves Frames encoded as
// S32LE. Once all frames are consumed, Read returns Err, or [io.EOF] if Err is
// nil.
//
// ChunkSize, when positive, caps the number of bytes returned per Read so
// tests can exercise partial reads.
type RecordStream struct {
	mu sync.Mutex

	Frames    []audio.PcmFrame
	Err       error
	ChunkSize int

	// Repeat, when set, serves Frames again from the start instead of ending.
	Repeat bool

	CallCountRead  int
	CallCountClose int

	buf    bytes.Buffer
	next   int
	closed bool
}

// Read implements [io.Reader].
func (r *RecordStream) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountRead++
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if r.buf.Len() == 0 {
		if r.next >= len(r.Frames) && r.Repeat && len(r.Frames) > 0 {
			r.next = 0
		}
		if r.next >= len(r.Frames) {
			if r.Err != nil {
				return 0, r.Err
			}
			return 0, io.EOF
		}
		r.buf.Write(audio.EncodeS32LE(nil, r.Frames[r.next]))
		r.next++
	}
	if r.ChunkSize > 0 && len(p) > r.ChunkSize {
		p = p[:r.ChunkSize]
	}
	return r.buf.Read(p)
}

// Close implements [io.Closer].
func (r *RecordStream) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountClose++
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *RecordStream) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
