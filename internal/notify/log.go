package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/vh7889/OKX-bot/internal/grid"
)

// Log writes notifications to the logger; used when no webhook is configured.
type Log struct{ log *zap.Logger }

func NewLog(log *zap.Logger) Log {
	if log == nil {
		log = zap.NewNop()
	}
	return Log{log: log}
}

func (l Log) Notify(_ context.Context, n grid.Notification) error {
	l.log.Info("grid transition",
		zap.String("side", string(n.Side)),
		zap.String("action", string(n.Kind)),
		zap.String("position", n.Position.String()),
		zap.String("max_position", n.MaxPosition.String()),
		zap.String("trigger", n.TriggerPrice.String()),
		zap.String("entry", n.EntryPrice.String()),
		zap.String("exit", n.ExitPrice.String()),
		zap.Int64("take_profits", n.TakeProfitCount),
	)
	return nil
}
