package adapter

import (
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
)

// New constructs the adapter variant for the given configuration. The kind
// was decided once at configuration creation (config.DetectKind); construction
// dispatches on the stored field instead of re-sniffing strings.
func New(cfg *config.ServerConfig, logger *zap.Logger) ServerAdapter {
	switch cfg.Kind {
	case config.KindGitHub:
		return NewGitHubAdapter(cfg, logger)
	default:
		return NewStandardAdapter(cfg, logger)
	}
}
