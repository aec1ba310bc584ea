package config_test

import (
	"testing"
	"time"

	"github.com/voxsplit/voxsplit/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Transcriber: config.TranscriberConfig{
			Backend: "whisper-server",
			BaseURL: "http://localhost:8178",
		},
		Pipeline: config.PipelineConfig{
			SegmentDuration: 60 * time.Second,
			Overlap:         time.Second,
			Width:           4,
		},
	}
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()

	d := config.Diff(old, new)
	if d.Any() {
		t.Errorf("identical configs should produce an empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if d.PipelineChanged {
		t.Error("PipelineChanged should be false")
	}
}

func TestDiff_PipelineChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Pipeline.Width = 8
	new.Pipeline.MinSpacing = 100 * time.Millisecond

	d := config.Diff(old, new)
	if !d.PipelineChanged {
		t.Fatal("PipelineChanged should be true")
	}
	if d.NewPipeline.Width != 8 {
		t.Errorf("NewPipeline.Width = %d, want 8", d.NewPipeline.Width)
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
}

func TestDiff_ServerChangesNotTracked(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.ListenAddr = ":9090"

	d := config.Diff(old, new)
	if d.Any() {
		t.Errorf("listen address changes require a restart and must not appear in the diff, got %+v", d)
	}
}
