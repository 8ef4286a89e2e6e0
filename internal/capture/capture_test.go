package capture_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/autovolume/internal/capture"
	"github.com/MrWong99/autovolume/internal/observe"
	"github.com/MrWong99/autovolume/pkg/audio"
	audiomock "github.com/MrWong99/autovolume/pkg/audio/mock"
)

const source = "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor"

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func open(t *testing.T, b *audiomock.Backend, opts ...capture.Option) (*capture.Stream, error) {
	t.Helper()
	opts = append([]capture.Option{capture.WithMetrics(testMetrics(t))}, opts...)
	return capture.Open(context.Background(), b, source,
		audio.DefaultStreamSpec(), audio.DefaultBufferPolicy(), opts...)
}

func TestOpen_Request(t *testing.T) {
	t.Parallel()
	b := &audiomock.Backend{Record: &audiomock.RecordStream{}}

	s, err := open(t, b, capture.WithClientName("auto_volume"), capture.WithServer("tcp:host"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	want := []audio.RecordRequest{{
		ClientName: "auto_volume",
		StreamName: capture.DefaultStreamName,
		Server:     "tcp:host",
		Source:     source,
		Spec:       audio.DefaultStreamSpec(),
		Policy:     audio.DefaultBufferPolicy(),
	}}
	if diff := cmp.Diff(want, b.OpenCalls); diff != "" {
		t.Errorf("OpenRecord requests mismatch (-want +got):\n%s", diff)
	}
	if s.Source() != source {
		t.Errorf("Source() = %q, want %q", s.Source(), source)
	}
	if !s.IsOpen() {
		t.Error("IsOpen() = false after Open")
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	cause := errors.New("no such entity")

	tests := []struct {
		name      string
		backend   *audiomock.Backend
		spec      audio.StreamSpec
		policy    audio.BufferPolicy
		opts      []capture.Option
		wantCalls int
	}{
		{
			name:      "invalid spec never reaches the server",
			backend:   &audiomock.Backend{Record: &audiomock.RecordStream{}},
			spec:      audio.StreamSpec{Format: audio.FormatS32LE, SampleRate: 0, Channels: 2},
			policy:    audio.DefaultBufferPolicy(),
			wantCalls: 0,
		},
		{
			name:      "invalid policy never reaches the server",
			backend:   &audiomock.Backend{Record: &audiomock.RecordStream{}},
			spec:      audio.DefaultStreamSpec(),
			policy:    audio.BufferPolicy{MaxLength: 1024, TargetLength: 2048},
			wantCalls: 0,
		},
		{
			name:      "no retry by default",
			backend:   &audiomock.Backend{OpenErrors: []error{cause}, Record: &audiomock.RecordStream{}},
			spec:      audio.DefaultStreamSpec(),
			policy:    audio.DefaultBufferPolicy(),
			wantCalls: 1,
		},
		{
			name:      "persistent failure is not masked by retry",
			backend:   &audiomock.Backend{OpenErrors: []error{cause, cause}, Record: &audiomock.RecordStream{}},
			spec:      audio.DefaultStreamSpec(),
			policy:    audio.DefaultBufferPolicy(),
			opts:      []capture.Option{capture.WithOpenRetry(1, 0)},
			wantCalls: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := append([]capture.Option{capture.WithMetrics(testMetrics(t))}, tc.opts...)
			_, err := capture.Open(context.Background(), tc.backend, source, tc.spec, tc.policy, opts...)

			var openErr *capture.OpenError
			if !errors.As(err, &openErr) {
				t.Fatalf("error = %v, want *OpenError", err)
			}
			if openErr.Source != source {
				t.Errorf("OpenError.Source = %q, want %q", openErr.Source, source)
			}
			if got := len(tc.backend.OpenCalls); got != tc.wantCalls {
				t.Errorf("OpenRecord calls = %d, want %d", got, tc.wantCalls)
			}
		})
	}
}

func TestOpen_RetrySucceeds(t *testing.T) {
	t.Parallel()
	b := &audiomock.Backend{
		OpenErrors: []error{errors.New("transient")},
		Record:     &audiomock.RecordStream{},
	}
	s, err := open(t, b, capture.WithOpenRetry(1, time.Millisecond))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if len(b.OpenCalls) != 2 {
		t.Errorf("OpenRecord calls = %d, want 2", len(b.OpenCalls))
	}
}

func TestRead(t *testing.T) {
	t.Parallel()

	frame := audio.PcmFrame{0, 1, -1, 1 << 30, -(1 << 30), 2147483647, -2147483648, 42}
	tests := []struct {
		name  string
		chunk int
	}{
		{"whole frame per read", 0},
		{"partial reads are reassembled", 3},
		{"one byte at a time", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rs := &audiomock.RecordStream{Frames: []audio.PcmFrame{frame}, ChunkSize: tc.chunk}
			s, err := open(t, &audiomock.Backend{Record: rs})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()

			got := make(audio.PcmFrame, len(frame))
			if err := s.Read(got); err != nil {
				t.Fatalf("Read: %v", err)
			}
			if diff := cmp.Diff(frame, got); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRead_ZeroFrame(t *testing.T) {
	t.Parallel()
	rs := &audiomock.RecordStream{Frames: []audio.PcmFrame{make(audio.PcmFrame, audio.DefaultFrameSamples)}}
	s, err := open(t, &audiomock.Backend{Record: rs})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	frame := make(audio.PcmFrame, audio.DefaultFrameSamples)
	for i := range frame {
		frame[i] = 7
	}
	if err := s.Read(frame); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if lvl := audio.FrameLevel(frame); lvl != 0 {
		t.Errorf("level of silent frame = %v, want 0", lvl)
	}
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()

	t.Run("end of stream", func(t *testing.T) {
		t.Parallel()
		s, err := open(t, &audiomock.Backend{Record: &audiomock.RecordStream{}})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()

		err = s.Read(make(audio.PcmFrame, 4))
		var readErr *capture.ReadError
		if !errors.As(err, &readErr) {
			t.Fatalf("error = %v, want *ReadError", err)
		}
		if !errors.Is(err, io.EOF) {
			t.Errorf("error = %v, want io.EOF", err)
		}
		if readErr.Want != 16 {
			t.Errorf("Want = %d, want 16", readErr.Want)
		}
	})

	t.Run("short read", func(t *testing.T) {
		t.Parallel()
		rs := &audiomock.RecordStream{Frames: []audio.PcmFrame{{1, 2}}}
		s, err := open(t, &audiomock.Backend{Record: rs})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()

		err = s.Read(make(audio.PcmFrame, 4))
		var readErr *capture.ReadError
		if !errors.As(err, &readErr) {
			t.Fatalf("error = %v, want *ReadError", err)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("error = %v, want io.ErrUnexpectedEOF", err)
		}
		if readErr.Read != 8 {
			t.Errorf("Read = %d, want 8", readErr.Read)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("connection reset")
		s, err := open(t, &audiomock.Backend{Record: &audiomock.RecordStream{Err: cause}})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()
		if err := s.Read(make(audio.PcmFrame, 2)); !errors.Is(err, cause) {
			t.Errorf("error = %v, want %v", err, cause)
		}
	})

	t.Run("odd frame length", func(t *testing.T) {
		t.Parallel()
		rs := &audiomock.RecordStream{Frames: []audio.PcmFrame{{1, 2, 3, 4}}}
		s, err := open(t, &audiomock.Backend{Record: rs})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()
		if err := s.Read(make(audio.PcmFrame, 3)); err == nil {
			t.Fatal("expected error for a frame that splits a channel group")
		}
		if rs.CallCountRead != 0 {
			t.Errorf("stream was read %d times, want 0", rs.CallCountRead)
		}
	})

	t.Run("after close", func(t *testing.T) {
		t.Parallel()
		rs := &audiomock.RecordStream{Frames: []audio.PcmFrame{{1, 2}}}
		s, err := open(t, &audiomock.Backend{Record: rs})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
		if rs.CallCountClose != 1 {
			t.Errorf("record stream Close calls = %d, want 1", rs.CallCountClose)
		}
		if s.IsOpen() {
			t.Error("IsOpen() = true after Close")
		}
		var readErr *capture.ReadError
		if err := s.Read(make(audio.PcmFrame, 2)); !errors.As(err, &readErr) {
			t.Errorf("error = %v, want *ReadError", err)
		}
	})
}
