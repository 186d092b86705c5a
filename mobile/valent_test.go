package mobile

import (
	"log/slog"
	"strings"
	"testing"
)

func TestNewEngine_parsesConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	toml := `data_dir = "` + dir + `"
enabled_plugins = ["kdeconnect.ping"]

[device]
name = "pixel-7"
type = "phone"
`
	e, err := NewEngine(toml)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.cfg.Device.Name != "pixel-7" {
		t.Errorf("Device.Name = %q, want pixel-7", e.cfg.Device.Name)
	}
	if e.cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", e.cfg.DataDir, dir)
	}
}

func TestNewEngine_requiresDataDir(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(`[device]
name = "pixel-7"
`)
	if err == nil {
		t.Fatal("expected error for missing data_dir")
	}
}

func TestEngine_IsRunning_falseBeforeStart(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(`data_dir = "` + t.TempDir() + `"`)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}
}

func TestEngine_GetDevices_emptyBeforeStart(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(`data_dir = "` + t.TempDir() + `"`)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := e.GetDevices(); got != "[]" {
		t.Errorf("GetDevices() = %q, want []", got)
	}
}

func TestEngine_Pair_unknownDevice(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(`data_dir = "` + t.TempDir() + `"`)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Pair("nonexistent"); err == nil {
		t.Fatal("expected error pairing with unknown device before Start()")
	}
}

type recordingLogger struct {
	messages []string
}

func (r *recordingLogger) Log(level int, msg string) {
	r.messages = append(r.messages, msg)
}

func TestMobileLogHandler_formatsAttrs(t *testing.T) {
	t.Parallel()

	rec := &recordingLogger{}
	h := &mobileLogHandler{callback: rec}

	logger := slog.New(h)
	logger.Info("device connected", "device_id", "abc123")

	if len(rec.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(rec.messages))
	}
	if !strings.Contains(rec.messages[0], "device connected") || !strings.Contains(rec.messages[0], "device_id=abc123") {
		t.Errorf("message = %q, missing expected content", rec.messages[0])
	}
}
