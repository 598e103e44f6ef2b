// Package services – GenerationService
//
// GenerationService fills bot_text on turns after they have been committed.
// It linearizes the turn's ancestry into a role-tagged history, hands it to
// the configured generation.Generator and stores the reply. Failures leave
// bot_text null; they are logged and counted but never turned into an error
// for the request that created the turn.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/go-notes-backend/internal/domain"
	"github.com/tbourn/go-notes-backend/internal/generation"
)

const defaultGenerationTimeout = 60 * time.Second

// GenerationService runs the generation adapter for turns.
type GenerationService struct {
	Conversations *ConversationService
	Generator     generation.Generator

	// Timeout bounds a single provider call.
	Timeout time.Duration
	// Sync makes Dispatch generate inline instead of in the background.
	Sync bool

	sem *semaphore.Weighted
	wg  conc.WaitGroup
}

// NewGenerationService constructs a GenerationService allowing at most
// concurrency provider calls at once.
func NewGenerationService(conv *ConversationService, gen generation.Generator, timeout time.Duration, concurrency int, sync bool) *GenerationService {
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &GenerationService{
		Conversations: conv,
		Generator:     gen,
		Timeout:       timeout,
		Sync:          sync,
		sem:           semaphore.NewWeighted(int64(concurrency)),
	}
}

// GenerateReplyFor produces and stores the reply for t. On success t.BotText
// and t.Model are updated in place. Provider failures are wrapped in
// ErrGenerationFailed; a broken ancestry surfaces as ErrInternalConsistency.
func (s *GenerationService) GenerateReplyFor(ctx context.Context, t *domain.Turn) error {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateReplyFor",
		trace.WithAttributes(
			attribute.String("turn.id", t.ID),
			attribute.String("generation.provider", s.Generator.Name()),
		),
	)
	defer span.End()

	ancestors, err := s.Conversations.History(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history")
		return err
	}

	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer s.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	reply, err := s.Generator.Generate(callCtx, HistoryMessages(ancestors), t.HumanText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	model := s.Generator.Model()
	if err := s.Conversations.Store.SetBotText(ctx, s.Conversations.DB, t.ID, reply, model); err != nil {
		if isNotFound(err) {
			return ErrTurnNotFound
		}
		return err
	}
	t.BotText = &reply
	if model != "" {
		t.Model = &model
	}
	span.SetAttributes(attribute.Int("history.length", len(ancestors)))
	return nil
}

func (s *GenerationService) acquire(ctx context.Context) error {
	if s.sem == nil {
		s.sem = semaphore.NewWeighted(1)
	}
	return s.sem.Acquire(ctx, 1)
}

// Dispatch runs generation for a freshly committed turn. In sync mode it
// runs inline and t reflects the outcome when Dispatch returns; otherwise it
// runs in the background on a context detached from the request. Errors are
// only logged.
func (s *GenerationService) Dispatch(ctx context.Context, t *domain.Turn) {
	lg := loggerFrom(ctx).With().Str("turn_id", t.ID).Str("provider", s.Generator.Name()).Logger()
	bg := lg.WithContext(context.WithoutCancel(ctx))

	if s.Sync {
		s.run(bg, t, &lg)
		return
	}
	cp := *t
	s.wg.Go(func() { s.run(bg, &cp, &lg) })
}

func (s *GenerationService) run(ctx context.Context, t *domain.Turn, lg *zerolog.Logger) {
	start := time.Now()
	if err := s.GenerateReplyFor(ctx, t); err != nil {
		ev := lg.Warn()
		if errors.Is(err, ErrInternalConsistency) {
			ev = lg.Error()
		}
		ev.Err(err).Dur("took", time.Since(start)).Msg("reply generation failed")
		return
	}
	lg.Debug().Dur("took", time.Since(start)).Msg("reply generated")
}

// Regenerate retries generation for turnID on behalf of userID and returns
// the updated turn. Unlike Dispatch the outcome is returned to the caller.
func (s *GenerationService) Regenerate(ctx context.Context, userID, turnID string) (*domain.Turn, error) {
	t, err := s.Conversations.Get(ctx, userID, turnID)
	if err != nil {
		return nil, err
	}
	if err := s.GenerateReplyFor(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Wait blocks until all background generations have finished.
func (s *GenerationService) Wait() {
	s.wg.Wait()
}

// HistoryMessages converts ancestors (root first) into the alternating
// role-tagged history handed to a Generator. A turn's bot message is
// included only when its reply exists.
func HistoryMessages(ancestors []domain.Turn) []generation.Message {
	out := make([]generation.Message, 0, 2*len(ancestors))
	for _, a := range ancestors {
		out = append(out, generation.Message{Role: generation.RoleHuman, Text: a.HumanText})
		if a.BotText != nil {
			out = append(out, generation.Message{Role: generation.RoleModel, Text: *a.BotText})
		}
	}
	return out
}

// loggerFrom returns the request logger carried by ctx, or the global one.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
