package credits

import (
	"context"

	"go.uber.org/zap"
)

// ServiceOption configures a DeductionService instance.
type ServiceOption func(*DeductionService)

// OperationLogger records domain-level events emitted by ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation    string
	WorkspaceID  WorkspaceID
	AllocationID string
	Amount       int64
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *DeductionService) {
		service.logger = logger
	}
}

// WithAllocationIDFactory overrides the allocation id generator (tests).
func WithAllocationIDFactory(factory func() string) ServiceOption {
	return func(service *DeductionService) {
		if factory != nil {
			service.newAllocationID = factory
		}
	}
}

// ZapOperationLogger adapts a zap.Logger to the OperationLogger contract.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires a ZapOperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured line per ledger operation.
func (zapLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	if zapLogger.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("workspace_id", entry.WorkspaceID.String()),
		zap.Int64("amount", entry.Amount),
		zap.String("status", entry.Status),
	}
	if entry.AllocationID != "" {
		fields = append(fields, zap.String("allocation_id", entry.AllocationID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	zapLogger.logger.Info("ledger operation", fields...)
}
