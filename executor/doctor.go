package executor

import (
	"context"
	"errors"
	"os"
)

// CheckToolchain runs each tool's version probe and returns the programs that
// could not be started.
func CheckToolchain(ctx context.Context, runner Runner, tc Toolchain) []string {
	dir, err := os.MkdirTemp("", "texengine-doctor-")
	if err == nil {
		defer os.RemoveAll(dir)
	}

	var missing []string
	for _, probe := range tc.VersionProbes() {
		probe.Dir = dir
		if _, err := runner.Run(ctx, probe); errors.Is(err, ErrSpawnFailed) {
			missing = append(missing, probe.Program)
		}
	}
	return missing
}
