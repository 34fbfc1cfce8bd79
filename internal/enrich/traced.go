package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/redact"
)

// maxLoggedReply caps how much of a raw reply is logged at debug level.
const maxLoggedReply = 512

type tracedGenerator struct {
	next           Generator
	logger         *zap.Logger
	requestTimeout time.Duration
}

// Traced wraps next so every batch call logs one request line and one response line.
func Traced(next Generator, logger *zap.Logger, requestTimeout time.Duration) Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tracedGenerator{next: next, logger: logger, requestTimeout: requestTimeout}
}

func (t *tracedGenerator) Generate(ctx context.Context, b core.Batch, targets []string) (string, error) {
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	first, last := "", ""
	if n := len(b.Rows); n > 0 {
		first, last = string(b.Rows[0].ID), string(b.Rows[n-1].ID)
	}
	t.logger.Info("enrich request",
		zap.Int("batch", b.Index),
		zap.Int("rows", len(b.Rows)),
		zap.String("firstRow", first),
		zap.String("lastRow", last),
		zap.Strings("targets", targets),
		zap.Duration("timeout", t.requestTimeout),
		zap.String("deadlineIn", deadlineIn),
	)

	start := time.Now()
	raw, err := t.next.Generate(ctx, b, targets)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		t.logger.Warn("enrich response",
			zap.Int("batch", b.Index),
			zap.Duration("duration", elapsed),
			zap.String("status", "error"),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return raw, err
	}
	t.logger.Info("enrich response",
		zap.Int("batch", b.Index),
		zap.Duration("duration", elapsed),
		zap.String("status", "ok"),
		zap.Int("replyBytes", len(raw)),
	)
	t.logger.Debug("enrich reply", zap.Int("batch", b.Index), zap.String("reply", redact.Snippet(raw, maxLoggedReply)))
	return raw, nil
}
