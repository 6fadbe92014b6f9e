package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dmsyncd.log")
	logger, err := New(Options{
		Path:   path,
		Level:  zapcore.InfoLevel,
		Quiet:  true,
		Fields: []zap.Field{zap.String("session", "main")},
	})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Info("relay connected", zap.String("user_id", "alice"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(data, &line); err != nil {
		t.Fatalf("log line is not a single JSON object: %v\n%s", err, data)
	}
	if line["msg"] != "relay connected" || line["session"] != "main" || line["user_id"] != "alice" {
		t.Errorf("line = %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Error("missing ts field")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("log permission = %o", info.Mode().Perm())
	}
}

func TestForSessionAddsPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmsyncd.log")
	logger, err := ForSession(path, "work", zapcore.InfoLevel, true)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(data, &line); err != nil {
		t.Fatal(err)
	}
	if line["session"] != "work" {
		t.Errorf("session = %v", line["session"])
	}
	if pid, _ := line["pid"].(float64); int(pid) != os.Getpid() {
		t.Errorf("pid = %v, want %d", line["pid"], os.Getpid())
	}
}
