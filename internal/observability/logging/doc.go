// Package logging builds the process logger and carries it through contexts.
//
// JSON output is the default; LOG_FORMAT=text switches to a tint handler
// for local development.
//
//	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
//	slog.SetDefault(logger)
//
//	func handle(ctx context.Context) {
//	    logging.WithRequestID(ctx, logging.FromContext(ctx)).Info("processing request")
//	}
package logging
