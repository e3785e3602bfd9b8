package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestWith_BeforeInit(t *testing.T) {
	// the zero state must be safe to call from tests that never Init
	With("component", "test").Infof("nothing")
	GetSugaredLogger().Debug("nothing")
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldlocker.log")
	if err := Init(Options{File: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		baseLogger = zap.NewNop()
		log = baseLogger.Sugar()
	})

	With("component", "test").Infow("door opened", "level", 1)
	With("component", "test").Debugf("hidden at info level")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"component":"test"`) || !strings.Contains(out, "door opened") {
		t.Errorf("expected component field and message, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
}

func TestFatalf_WritesBeforeExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldlocker.log")
	fatalHook = zapcore.WriteThenPanic
	if err := Init(Options{File: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		fatalHook = zapcore.WriteThenFatal
		baseLogger = zap.NewNop()
		log = baseLogger.Sugar()
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the fatal hook to run")
			}
		}()
		Fatalf("open env store: %s", "no space")
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "open env store: no space") || !strings.Contains(string(data), `"level":"fatal"`) {
		t.Errorf("fatal entry not written: %q", data)
	}
}
