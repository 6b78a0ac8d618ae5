// Package logging provides structured logging utilities with context propagation.
//
// Example usage:
//
//	logger := logging.NewLogger()
//	logger.Info("worker started", slog.String("queue", "notification:tasks"))
//
//	func handle(ctx context.Context) {
//	    logger := logging.WithRequestID(ctx, slog.Default())
//	    logger.Info("processing request")
//	}
package logging
