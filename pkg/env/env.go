// Package env loads env.yaml, the core's process-level configuration:
// database directory, sample-file directory, and HTTP port. A plain
// YAML-load-then-default-then-validate shape, trimmed to the fields this
// core actually consumes (no ffmpeg/go binary discovery, no RTSP/HLS
// ports: those belong to the external demuxer and HTTP server this core
// doesn't own).
package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrPathNotAbsolute is returned when a configured path is not absolute.
var ErrPathNotAbsolute = errors.New("env: path is not absolute")

// ConfigEnv is the process-level configuration loaded from env.yaml.
type ConfigEnv struct {
	Port int `yaml:"port"`

	HomeDir      string `yaml:"homeDir"`
	StorageDir   string `yaml:"storageDir"`
	SampleFileDirName string `yaml:"sampleFileDir"`
	ConfigDir    string
}

// NewConfigEnv parses envYAML (the contents of env.yaml, whose path is
// envPath) and fills in defaults.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv
	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("env: unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = 2020
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}
	if env.SampleFileDirName == "" {
		env.SampleFileDirName = "samples"
	}

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("env: homeDir %q: %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("env: storageDir %q: %w", env.StorageDir, ErrPathNotAbsolute)
	}

	return &env, nil
}

// SampleFileDir returns the directory sample files are written to.
func (env ConfigEnv) SampleFileDir() string {
	return filepath.Join(env.StorageDir, env.SampleFileDirName)
}

// DBPath returns the path to the metadata-store SQLite file.
func (env ConfigEnv) DBPath() string {
	return filepath.Join(env.StorageDir, "nvr.db")
}

// LogDBPath returns the path to the log SQLite file.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "log.db")
}

// LogArchiveDBPath returns the path to the bbolt-backed, queryable log
// retention store. Distinct from LogDBPath: that SQLite file is the
// fan-out Logger's own capped ring buffer, this one backs /api/log/query.
func (env ConfigEnv) LogArchiveDBPath() string {
	return filepath.Join(env.StorageDir, "log-archive.db")
}

// PrepareEnvironment creates the directories env describes.
func (env ConfigEnv) PrepareEnvironment() error {
	if err := os.MkdirAll(env.SampleFileDir(), 0o700); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("env: create sample file directory %v: %w", env.SampleFileDir(), err)
	}
	return nil
}
