package extension

import (
	"time"

	"github.com/xraph/usufruct"
)

// Config holds the Usufruct extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.usufruct" or "usufruct" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// JournalBatchSize is the number of journal events to buffer before
	// flushing to the store (default: 100).
	JournalBatchSize int `json:"journal_batch_size" mapstructure:"journal_batch_size" yaml:"journal_batch_size"`

	// JournalFlushInterval is how frequently the journal buffer is flushed
	// even if the batch size has not been reached (default: 5s).
	JournalFlushInterval time.Duration `json:"journal_flush_interval" mapstructure:"journal_flush_interval" yaml:"journal_flush_interval"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		JournalBatchSize:     100,
		JournalFlushInterval: 5 * time.Second,
	}
}

// Validate reports configuration values the engine cannot run with.
func (c Config) Validate() error {
	var multi usufruct.MultiError
	if c.JournalBatchSize < 0 {
		multi.Add(usufruct.ValidationError{Field: "journal_batch_size", Message: "must not be negative"})
	}
	if c.JournalFlushInterval < 0 {
		multi.Add(usufruct.ValidationError{Field: "journal_flush_interval", Message: "must not be negative"})
	}
	if multi.HasErrors() {
		return multi
	}
	return nil
}
