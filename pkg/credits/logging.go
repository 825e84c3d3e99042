package credits

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a credits operation and its outcome.
type OperationLog struct {
	Operation  string
	GuestID    string
	SessionID  string
	PaymentURL string
	Amount     int64
	AssetCode  string
	AssetScale int32
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPollTimeout overrides the overall timeout for one poll pass.
func WithPollTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.pollTimeout = timeout
		}
	}
}

// ZapOperationLogger adapts a zap logger to the OperationLogger contract.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires a ZapOperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured line per operation.
func (zapLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	if zapLogger.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("guest_id", entry.GuestID),
		zap.String("session_id", entry.SessionID),
		zap.String("status", entry.Status),
	}
	if entry.PaymentURL != "" {
		fields = append(fields, zap.String("payment_url", entry.PaymentURL))
	}
	if entry.AssetCode != "" {
		fields = append(fields, zap.Int64("amount", entry.Amount), zap.String("asset_code", entry.AssetCode), zap.Int32("asset_scale", entry.AssetScale))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("credits operation failed", fields...)
		return
	}
	zapLogger.logger.Info("credits operation", fields...)
}
