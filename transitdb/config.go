package transitdb

import (
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/appconf"
)

const defaultBulkInsertBatchSize = 500

// Config holds the settings for a database client.
type Config struct {
	DBPath              string
	Env                 appconf.Environment
	verbose             bool
	bulkInsertBatchSize int
}

// NewConfig creates a new Config with the provided values.
func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:              dbPath,
		Env:                 env,
		verbose:             verbose,
		bulkInsertBatchSize: defaultBulkInsertBatchSize,
	}
}

// GetBulkInsertBatchSize returns the number of rows per multi-row INSERT.
func (c Config) GetBulkInsertBatchSize() int {
	if c.bulkInsertBatchSize <= 0 {
		return defaultBulkInsertBatchSize
	}
	return c.bulkInsertBatchSize
}
