package locker

import (
	"context"

	"github.com/btrdedup/btrdedup/pkg/config"
	"go.uber.org/fx"
)

var Module = fx.Module("locker",
	fx.Provide(NewLedger),
)

// NewLedger provides the pebble-backed Ledger as an fx dependency, closing
// it on shutdown.
func NewLedger(lc fx.Lifecycle, cfg *config.Config) (*Ledger, error) {
	l, err := OpenLedger(cfg.LockLedgerDir)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return l.Close()
		},
	})
	return l, nil
}
