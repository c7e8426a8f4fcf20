package env

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfigEnvFillsDefaults(t *testing.T) {
	envPath := "/srv/nvr/config/env.yaml"
	env, err := NewConfigEnv(envPath, []byte{})
	if err != nil {
		t.Fatalf("NewConfigEnv: %v", err)
	}
	if env.Port != 2020 {
		t.Fatalf("expected default port 2020, got %d", env.Port)
	}
	if env.ConfigDir != "/srv/nvr/config" {
		t.Fatalf("expected configDir derived from envPath, got %q", env.ConfigDir)
	}
	if env.HomeDir != "/srv/nvr" {
		t.Fatalf("expected homeDir defaulted to configDir's parent, got %q", env.HomeDir)
	}
	if env.StorageDir != "/srv/nvr/storage" {
		t.Fatalf("expected storageDir defaulted under homeDir, got %q", env.StorageDir)
	}
	if env.SampleFileDirName != "samples" {
		t.Fatalf("expected default sampleFileDir name, got %q", env.SampleFileDirName)
	}
}

func TestNewConfigEnvHonorsExplicitFields(t *testing.T) {
	yaml := []byte("port: 8080\nhomeDir: /data/nvr\nstorageDir: /data/nvr/store\nsampleFileDir: clips\n")
	env, err := NewConfigEnv("/etc/nvr/env.yaml", yaml)
	if err != nil {
		t.Fatalf("NewConfigEnv: %v", err)
	}
	if env.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", env.Port)
	}
	if env.HomeDir != "/data/nvr" || env.StorageDir != "/data/nvr/store" {
		t.Fatalf("expected explicit homeDir/storageDir honored, got %q/%q", env.HomeDir, env.StorageDir)
	}
	if env.SampleFileDir() != "/data/nvr/store/clips" {
		t.Fatalf("expected SampleFileDir to join storageDir and sampleFileDir, got %q", env.SampleFileDir())
	}
}

func TestNewConfigEnvRejectsRelativeHomeDir(t *testing.T) {
	yaml := []byte("homeDir: relative/path\n")
	if _, err := NewConfigEnv("/etc/nvr/env.yaml", yaml); err == nil {
		t.Fatalf("expected an error for a relative homeDir")
	}
}

func TestNewConfigEnvRejectsRelativeStorageDir(t *testing.T) {
	yaml := []byte("storageDir: relative/storage\n")
	if _, err := NewConfigEnv("/etc/nvr/env.yaml", yaml); err == nil {
		t.Fatalf("expected an error for a relative storageDir")
	}
}

func TestConfigEnvDerivedPaths(t *testing.T) {
	env := ConfigEnv{StorageDir: "/x/storage", SampleFileDirName: "samples"}
	if env.SampleFileDir() != filepath.Join("/x/storage", "samples") {
		t.Fatalf("unexpected SampleFileDir: %q", env.SampleFileDir())
	}
	if env.DBPath() != filepath.Join("/x/storage", "nvr.db") {
		t.Fatalf("unexpected DBPath: %q", env.DBPath())
	}
	if env.LogDBPath() != filepath.Join("/x/storage", "log.db") {
		t.Fatalf("unexpected LogDBPath: %q", env.LogDBPath())
	}
	if env.LogArchiveDBPath() != filepath.Join("/x/storage", "log-archive.db") {
		t.Fatalf("unexpected LogArchiveDBPath: %q", env.LogArchiveDBPath())
	}
	if env.LogArchiveDBPath() == env.LogDBPath() {
		t.Fatalf("LogArchiveDBPath must not collide with LogDBPath")
	}
}

func TestPrepareEnvironmentCreatesSampleFileDir(t *testing.T) {
	base := t.TempDir()
	env := ConfigEnv{StorageDir: filepath.Join(base, "storage"), SampleFileDirName: "samples"}

	if err := env.PrepareEnvironment(); err != nil {
		t.Fatalf("PrepareEnvironment: %v", err)
	}
	info, err := os.Stat(env.SampleFileDir())
	if err != nil {
		t.Fatalf("expected sample file dir to exist: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected sample file dir to be a directory")
	}

	// Calling it again against an already-existing directory must not error.
	if err := env.PrepareEnvironment(); err != nil {
		t.Fatalf("PrepareEnvironment (idempotent call): %v", err)
	}
}
