package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration template written by
// 'bigshuf init'. Values match GetDefaultConfig.
const sampleConfig = `# bigshuf Configuration File
#
# All options can be overridden with environment variables using the
# BIGSHUF_ prefix, e.g. BIGSHUF_SHUFFLE_WORKERS=8 or
# BIGSHUF_LOGGING_LEVEL=DEBUG.

# Logging configuration
logging:
  # Log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Log format: text, json
  format: text
  # Log output: stdout, stderr, or a file path
  output: stderr

# Shuffle pipeline configuration
shuffle:
  # Maximum size of each chunk on disk and in memory.
  # Peak memory is roughly workers x chunk_size.
  # Supports human-readable sizes: 64Mi, 1GB, 512MB
  chunk_size: 64Mi

  # Optional additional bound on records per chunk (0 = byte-bounded only)
  chunk_records: 0

  # Number of chunks shuffled concurrently.
  # Reduced automatically if workers x chunk_size exceeds memory_limit.
  workers: 4

  # Upper bound on memory used by concurrent chunk shuffles
  memory_limit: 1Gi

  # Directory for temporary chunk files (empty = system temp dir)
  # temp_dir: /var/tmp

  # Fixed seed for reproducible runs (0 = new seed each run)
  # seed: 42

# Prometheus metrics (opt-in)
metrics:
  enabled: false
  # port: 9090

# OpenTelemetry tracing (opt-in)
telemetry:
  enabled: false
  # endpoint: localhost:4317
  # insecure: true
  # sample_rate: 1.0
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
// Fails if the file already exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
