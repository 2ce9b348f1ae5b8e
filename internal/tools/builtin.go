// Package tools installs the builtin tool families into a worker's tool
// registry: "records" (dataset queries) and "rules" (record validation).
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nidhogg/nuka-relay/internal/config"
	"github.com/nidhogg/nuka-relay/internal/tools/records"
	"github.com/nidhogg/nuka-relay/internal/tools/rules"
	"github.com/nidhogg/nuka-relay/internal/worker"
	"go.uber.org/zap"
)

// Families lists the builtin names accepted by Install.
var Families = []string{"records", "rules"}

// Kit holds the resources opened by Install.
type Kit struct {
	closers []io.Closer
}

// Install registers each named family into reg. Resources already opened
// are released when a later family fails.
func Install(ctx context.Context, reg *worker.ToolRegistry, names []string, cfg *config.Config, logger *zap.Logger) (*Kit, error) {
	k := &Kit{}
	for _, name := range names {
		if err := k.install(ctx, reg, name, cfg, logger); err != nil {
			k.Close()
			return nil, fmt.Errorf("builtin %s: %w", name, err)
		}
		logger.Info("builtin tools installed", zap.String("family", name))
	}
	return k, nil
}

func (k *Kit) install(ctx context.Context, reg *worker.ToolRegistry, name string, cfg *config.Config, logger *zap.Logger) error {
	switch name {
	case "records":
		src, err := records.Open(ctx, cfg.Records, logger)
		if err != nil {
			return err
		}
		k.closers = append(k.closers, src)
		return records.Register(reg, src, logger)
	case "rules":
		if cfg.Rules.Path == "" {
			return errors.New("rules.path is required")
		}
		set, err := rules.Load(cfg.Rules.Path)
		if err != nil {
			return err
		}
		return rules.Register(reg, set, logger)
	default:
		return fmt.Errorf("unknown family (known: %v)", Families)
	}
}

// Close releases everything the kit opened.
func (k *Kit) Close() error {
	var errs []error
	for _, c := range k.closers {
		errs = append(errs, c.Close())
	}
	k.closers = nil
	return errors.Join(errs...)
}
