package reply

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/domain"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

// Generator proposes an automated reply to a student message. An empty reply with a nil
// error means "no reply".
type Generator interface {
	GenerateReply(ctx context.Context, thread domain.Thread, history []domain.Message, text string) (string, error)
}

// Disabled is the generator used when no provider is configured.
type Disabled struct{}

// GenerateReply always returns no reply.
func (Disabled) GenerateReply(context.Context, domain.Thread, []domain.Message, string) (string, error) {
	return "", nil
}

// NewGenerator returns a guarded Gemini client, or Disabled when no API key is set.
func NewGenerator(cfg config.ReplyConfig, logger *zap.Logger) Generator {
	if cfg.GeminiAPIKey == "" {
		return Disabled{}
	}
	return Guard(NewGeminiClient(cfg), cfg.Timeout(), logger)
}

// Guarded bounds a generator with a timeout and turns panics into errors.
type Guarded struct {
	next    Generator
	timeout time.Duration
	logger  *zap.Logger
}

// Guard wraps next.
func Guard(next Generator, timeout time.Duration, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{next: next, timeout: timeout, logger: logger}
}

type generated struct {
	text string
	err  error
}

// GenerateReply runs the wrapped generator and gives up when the timeout elapses.
// Errors are reported as CollaboratorUnavailable.
func (g *Guarded) GenerateReply(ctx context.Context, thread domain.Thread, history []domain.Message, text string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan generated, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generated{err: fmt.Errorf("reply generator panicked: %v", r)}
			}
		}()
		reply, err := g.next.GenerateReply(ctx, thread, history, text)
		done <- generated{text: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		g.logger.Warn("reply generation timed out", zap.String("thread_id", thread.ID))
		return "", apperrors.NewCollaboratorUnavailable("reply", ctx.Err())
	case res := <-done:
		if res.err != nil {
			g.logger.Warn("reply generation failed", zap.String("thread_id", thread.ID), zap.Error(res.err))
			return "", apperrors.NewCollaboratorUnavailable("reply", res.err)
		}
		return res.text, nil
	}
}
