package sources

import (
	"context"
	"fmt"

	"github.com/contactdir/contactdir-server/internal/config"
)

// New creates the source selected by the configuration
func New(ctx context.Context, cfg *config.SourceConfig) (Source, error) {
	switch cfg.Type {
	case config.SourceTypeAPI:
		return NewAPISource(ctx, cfg.API)
	case config.SourceTypeFile:
		if cfg.File == nil {
			return nil, fmt.Errorf("file configuration is required for source type %s", config.SourceTypeFile)
		}
		return NewFileSource(cfg.File.Path)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}
