package audio_test

import (
	"testing"

	"github.com/MrWong99/autovolume/pkg/audio"
)

func TestStreamSpec_Default(t *testing.T) {
	t.Parallel()
	spec := audio.DefaultStreamSpec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("default spec invalid: %v", err)
	}
	if spec.Format != audio.FormatS32LE || spec.SampleRate != 48000 || spec.Channels != 2 {
		t.Errorf("unexpected default spec: %+v", spec)
	}
	if got := spec.String(); got != "s32le 48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
	if got := spec.BytesPerSecond(); got != 384000 {
		t.Errorf("BytesPerSecond() = %d, want 384000", got)
	}
}

func TestStreamSpec_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		spec    audio.StreamSpec
		wantErr bool
	}{
		{"valid mono", audio.StreamSpec{Format: audio.FormatS32LE, SampleRate: 8000, Channels: 1}, false},
		{"max rate", audio.StreamSpec{Format: audio.FormatS32LE, SampleRate: audio.MaxSampleRate, Channels: 2}, false},
		{"unknown format", audio.StreamSpec{SampleRate: 48000, Channels: 2}, true},
		{"zero rate", audio.StreamSpec{Format: audio.FormatS32LE, Channels: 2}, true},
		{"rate too high", audio.StreamSpec{Format: audio.FormatS32LE, SampleRate: audio.MaxSampleRate + 1, Channels: 2}, true},
		{"zero channels", audio.StreamSpec{Format: audio.FormatS32LE, SampleRate: 48000}, true},
		{"too many channels", audio.StreamSpec{Format: audio.FormatS32LE, SampleRate: 48000, Channels: 33}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.spec.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestBufferPolicy_Validate(t *testing.T) {
	t.Parallel()
	if err := audio.DefaultBufferPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	tests := []struct {
		name   string
		policy audio.BufferPolicy
	}{
		{"zero max", audio.BufferPolicy{}},
		{"target over max", audio.BufferPolicy{MaxLength: 1024, TargetLength: 2048}},
		{"fragment over max", audio.BufferPolicy{MaxLength: 1024, FragmentSize: 4096}},
		{"prebuf over target", audio.BufferPolicy{MaxLength: 4096, TargetLength: 1024, PreBuffer: 2048}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.policy.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestConnState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state    audio.ConnState
		name     string
		terminal bool
	}{
		{audio.StateUnconnected, "unconnected", false},
		{audio.StateConnecting, "connecting", false},
		{audio.StateReady, "ready", false},
		{audio.StateFailed, "failed", true},
		{audio.StateTerminated, "terminated", true},
		{audio.ConnState(99), "unknown", false},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.name {
			t.Errorf("String() = %q, want %q", got, tc.name)
		}
		if got := tc.state.IsTerminal(); got != tc.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tc.name, got, tc.terminal)
		}
	}
}

func TestMonitorSource(t *testing.T) {
	t.Parallel()
	got := audio.MonitorSource("alsa_output.pci-0000_00_1f.3.analog-stereo")
	if want := "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor"; got != want {
		t.Errorf("MonitorSource = %q, want %q", got, want)
	}
}
