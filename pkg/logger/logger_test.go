package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitSwitchesHandler(t *testing.T) {
	t.Cleanup(func() { Init("production") })

	Init("development")
	if Get() == nil {
		t.Fatal("Get() returned nil after dev init")
	}
	Init("production")
	if Get() == nil {
		t.Fatal("Get() returned nil after prod init")
	}
}

func TestFromContextFallback(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to default logger")
	}

	custom := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatal("FromContext did not return injected logger")
	}
}

func TestInitWithFileCreatesLog(t *testing.T) {
	t.Cleanup(func() {
		ShutdownFileHandler()
		Init("production")
	})

	dir := t.TempDir()
	if err := InitWithFile(dir); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "console-") && filepath.Ext(e.Name()) == ".log" {
			found = true
		}
	}
	if !found {
		t.Fatal("log file not created")
	}
}
