package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct validation tags
// plus cross-field rules the tags cannot express.
//
// Validation does not mutate the config; normalization (e.g. uppercasing
// the log level) belongs to ApplyDefaults.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q validation (value: %v)",
					fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
		}
		return err
	}

	return validateShuffle(&cfg.Shuffle)
}

// validateShuffle enforces the shuffle section's cross-field rules.
func validateShuffle(cfg *ShuffleConfig) error {
	if cfg.ChunkSize == 0 {
		return fmt.Errorf("shuffle.chunk_size must be positive")
	}
	if cfg.MemoryLimit == 0 {
		return fmt.Errorf("shuffle.memory_limit must be positive")
	}
	if cfg.ChunkSize > cfg.MemoryLimit {
		return fmt.Errorf("shuffle.chunk_size (%s) exceeds shuffle.memory_limit (%s)",
			cfg.ChunkSize, cfg.MemoryLimit)
	}
	return nil
}
