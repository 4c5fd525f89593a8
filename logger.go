package tessera

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with tessera-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", id),
	}
}

// LogCreateCollection logs a collection creation.
func (l *Logger) LogCreateCollection(ctx context.Context, name, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create collection failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "collection created",
			"name", name,
			"collection", id,
		)
	}
}

// LogAddBatch logs a batch ingest operation.
func (l *Logger) LogAddBatch(ctx context.Context, collectionID string, inserted, skipped, triples int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch ingest failed",
			"collection", collectionID,
			"error", err,
		)
	} else if skipped > 0 {
		l.InfoContext(ctx, "batch ingest completed with duplicates skipped",
			"collection", collectionID,
			"inserted", inserted,
			"skipped", skipped,
			"triples", triples,
		)
	} else {
		l.DebugContext(ctx, "batch ingest completed",
			"collection", collectionID,
			"inserted", inserted,
			"triples", triples,
		)
	}
}

// LogQuery logs a hybrid query.
func (l *Logger) LogQuery(ctx context.Context, collectionID string, k, hits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"collection", collectionID,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"collection", collectionID,
			"k", k,
			"hits", hits,
		)
	}
}

// LogDeleteDocument logs a document deletion.
func (l *Logger) LogDeleteDocument(ctx context.Context, collectionID, externalID string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete document failed",
			"collection", collectionID,
			"document", externalID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "document deleted",
			"collection", collectionID,
			"document", externalID,
		)
	}
}

// LogDeleteCollection logs a cascading collection deletion.
func (l *Logger) LogDeleteCollection(ctx context.Context, collectionID string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete collection failed",
			"collection", collectionID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "collection deleted",
			"collection", collectionID,
		)
	}
}

// LogGraphQuery logs a graph neighbourhood query.
func (l *Logger) LogGraphQuery(ctx context.Context, collectionID string, entities, triples int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "graph query failed",
			"collection", collectionID,
			"entities", entities,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "graph query completed",
			"collection", collectionID,
			"entities", entities,
			"triples", triples,
		)
	}
}
