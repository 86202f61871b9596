package notify

import (
	"context"
	"errors"
	"net"
	"syscall"

	"go.uber.org/zap"

	"transferwatch/internal/model"
)

// Notifier delivers a formatted alert for a matched event. The caller only
// inspects the error outcome for retry bookkeeping, never the transport.
type Notifier interface {
	Send(ctx context.Context, event model.TransferEvent) error
}

// IsTransient reports whether err is a network-class failure worth a longer
// backoff before retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// LogNotifier writes alerts to the log. Used when no push channel is
// configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the alert.
func (n *LogNotifier) Send(_ context.Context, event model.TransferEvent) error {
	n.logger.Info("transfer alert",
		zap.String("kind", string(event.Kind)),
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.String("amount", event.Amount),
		zap.String("symbol", event.TokenSymbol),
		zap.String("tx_hash", event.TxHash),
		zap.Uint64("block", event.BlockNumber))
	return nil
}
