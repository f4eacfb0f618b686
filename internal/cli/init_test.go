package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GASTOS_CLI_TEST_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GASTOS_CLI_TEST_KEY", "")
	os.Unsetenv("GASTOS_CLI_TEST_KEY")

	LoadEnvFile(path)
	if got := os.Getenv("GASTOS_CLI_TEST_KEY"); got != "from-file" {
		t.Errorf("GASTOS_CLI_TEST_KEY = %q", got)
	}

	// Missing files are ignored.
	LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
}

func TestGracefulShutdownRunsEveryStep(t *testing.T) {
	logger := SetupLogger("error")
	var ran []string
	GracefulShutdown(logger, time.Second,
		func(context.Context) error { ran = append(ran, "server"); return nil },
		func(context.Context) error { ran = append(ran, "broker"); return errors.New("already closed") },
		func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("step context has no deadline")
			}
			ran = append(ran, "db")
			return nil
		},
	)
	if len(ran) != 3 || ran[0] != "server" || ran[2] != "db" {
		t.Errorf("steps ran = %v", ran)
	}
}
