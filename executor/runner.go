package executor

import (
	"texengine/config"

	logrus "github.com/sirupsen/logrus"
)

// NewRunner picks the container runner when a toolchain image is configured
// and host processes otherwise. The returned func releases the runner.
func NewRunner(cfg *config.Config, logger *logrus.Logger) (Runner, func() error, error) {
	if cfg.ToolchainImage == "" {
		return NewProcessRunner(cfg, logger), func() error { return nil }, nil
	}
	r, err := NewContainerRunner(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
