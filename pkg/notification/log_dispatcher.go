package notification

import (
	"context"
	"log/slog"
)

// LogDispatcher writes notifications to the log instead of delivering them.
// Used in development and as the fallback when no event bus is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{
		logger: logger.With("module", "log_dispatcher"),
	}
}

func (d *LogDispatcher) Notify(ctx context.Context, patientID, formName, executionID string) (Result, error) {
	d.logger.InfoContext(ctx, "Form notification",
		"patient_id", patientID,
		"form_name", formName,
		"execution_id", executionID)

	return Result{Success: true, FormName: formName}, nil
}
