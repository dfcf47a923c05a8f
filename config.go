package mimicidx

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Default checkpoint spacing: 4 MiB of uncompressed data.
const DefaultCheckpointSpacing int64 = 4 << 20

// Config holds the environment-level settings that affect
// correctness: where dataset files live, where the shared
// Subject-Range Table is persisted, and the checkpoint spacing.
type Config struct {
	BaseDir          string
	RangeTablePath   string
	CheckpointSpacing int64
}

// LoadConfig reads MIMICIDX_BASE_DIR, MIMICIDX_RANGE_TABLE and
// MIMICIDX_SPACING from the process environment, first loading a
// .env file at envPath if one exists (an absent file is skipped, so
// callers can always pass a path and let LoadConfig decide whether it
// matters).
func LoadConfig(envPath string) (Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return Config{}, errIO(envPath, err)
			}
		}
	}

	cfg := Config{
		BaseDir:           os.Getenv("MIMICIDX_BASE_DIR"),
		RangeTablePath:    os.Getenv("MIMICIDX_RANGE_TABLE"),
		CheckpointSpacing: DefaultCheckpointSpacing,
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	if cfg.RangeTablePath == "" {
		cfg.RangeTablePath = "subject_range_table.csv"
	}
	if raw := os.Getenv("MIMICIDX_SPACING"); raw != "" {
		spacing, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, errUsage("MIMICIDX_SPACING %q is not an integer", raw)
		}
		cfg.CheckpointSpacing = spacing
	}

	return cfg, nil
}
