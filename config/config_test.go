package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestBindServerFlagsDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	v := BindServerFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := v.GetString("listen"); got != ":5005" {
		t.Fatalf("listen default = %q, want :5005", got)
	}
	if got := v.GetInt("workers"); got != 4 {
		t.Fatalf("workers default = %d, want 4", got)
	}
}

func TestBindClientFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	v := BindClientFlags(fs)
	if err := fs.Parse([]string{"-c", "example.com", "-t", "7", "-tls"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := v.GetString("host"); got != "example.com" {
		t.Fatalf("host = %q, want example.com", got)
	}
	if got := v.GetInt("threads"); got != 7 {
		t.Fatalf("threads = %d, want 7", got)
	}
	if !v.GetBool("tls") {
		t.Fatal("tls = false, want true")
	}
}

func TestPersistedClientUUIDStableAcrossCalls(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	v := BindClientFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	first, err := PersistedClientUUID(v)
	if err != nil {
		t.Fatalf("PersistedClientUUID: %v", err)
	}
	if first == "" {
		t.Fatal("empty uuid")
	}

	if _, statErr := os.Stat(filepath.Join(home, ".config", "nettest.conf")); statErr != nil {
		t.Fatalf("expected config file to be written: %v", statErr)
	}

	second, err := PersistedClientUUID(v)
	if err != nil {
		t.Fatalf("PersistedClientUUID (2nd): %v", err)
	}
	if second != first {
		t.Fatalf("uuid changed across calls: %q != %q", first, second)
	}
}

func TestWriteAndRemovePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rmbt.pid")
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty pid file")
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file still exists after remove")
	}
}

func TestRemovePIDFileIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pid")
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile on missing file: %v", err)
	}
}
