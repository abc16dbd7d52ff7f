package usecases

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

var (
	errEmptyResponse = errors.New("empty completion response")
	errStreamCut     = errors.New("stream ended before completion")
	errSinkAborted   = errors.New("delta consumer went away")
)

// DeltaSink receives streamed text as it arrives. Returning an error stops the stream.
type DeltaSink func(delta string) error

// DispatchRequest is one completion call.
type DispatchRequest struct {
	Department  string
	Instruction string
	Bundle      entities.EvidenceBundle
	Message     string
	Stream      bool
	// Deadline bounds the call; zero leaves only the caller's context.
	Deadline time.Duration
}

// Completion is a full backend answer.
type Completion struct {
	Text    string
	Deltas  int
	Elapsed time.Duration
}

// CompletionDispatcher is the single path to the text-generation backend,
// streamed or not. It never touches the conversation ledger.
type CompletionDispatcher struct {
	backend ports.CompletionBackend
	logger  *zap.Logger
}

// NewCompletionDispatcher creates a dispatcher over a backend.
func NewCompletionDispatcher(backend ports.CompletionBackend, logger *zap.Logger) *CompletionDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionDispatcher{backend: backend, logger: logger.Named("dispatch")}
}

// Dispatch sends the request. In stream mode every delta goes to sink before
// the next is read, and the concatenated deltas equal Completion.Text.
func (d *CompletionDispatcher) Dispatch(ctx context.Context, req DispatchRequest, sink DeltaSink) (*Completion, error) {
	start := time.Now()
	// Backend stream goroutines must not outlive the dispatch.
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if req.Deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Deadline)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	creq := ports.CompletionRequest{
		Instruction: req.Instruction,
		Evidence:    req.Bundle,
		Message:     req.Message,
	}

	var (
		text   string
		deltas int
		err    error
	)
	if req.Stream {
		text, deltas, err = d.stream(callCtx, creq, sink)
	} else {
		text, err = d.backend.Generate(callCtx, creq)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		failure := classifyFailure(ctx, callCtx, req.Department, err)
		d.logger.Warn("completion failed",
			zap.String("department", req.Department),
			zap.String("kind", string(failure.Kind)),
			zap.Bool("stream", req.Stream),
			zap.Error(err),
		)
		return nil, failure
	}

	elapsed := time.Since(start)
	d.logger.Debug("completion received",
		zap.String("department", req.Department),
		zap.Bool("stream", req.Stream),
		zap.Int("deltas", deltas),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", elapsed),
	)
	return &Completion{Text: text, Deltas: deltas, Elapsed: elapsed}, nil
}

func (d *CompletionDispatcher) stream(ctx context.Context, req ports.CompletionRequest, sink DeltaSink) (string, int, error) {
	ch, err := d.backend.GenerateStream(ctx, req)
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	deltas := 0
	for {
		select {
		case <-ctx.Done():
			return "", deltas, ctx.Err()
		case delta, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return "", deltas, ctx.Err()
				}
				return "", deltas, errStreamCut
			}
			if delta.Error != nil {
				return "", deltas, delta.Error
			}
			if delta.Content != "" {
				sb.WriteString(delta.Content)
				deltas++
				if sink != nil {
					if err := sink(delta.Content); err != nil {
						return "", deltas, errors.Join(errSinkAborted, err)
					}
				}
			}
			if delta.Done {
				return sb.String(), deltas, nil
			}
		}
	}
}

// classifyFailure maps an error onto the CompletionFailure kinds. A canceled
// parent context means the caller left; an expired call context is a timeout.
func classifyFailure(parent, call context.Context, department string, err error) *entities.CompletionFailure {
	kind := entities.FailureUnavailable
	switch {
	case errors.Is(parent.Err(), context.Canceled), errors.Is(err, errSinkAborted):
		kind = entities.FailureCanceled
	case errors.Is(call.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		kind = entities.FailureTimeout
	case errors.Is(err, ports.ErrMalformedResponse), errors.Is(err, errEmptyResponse), errors.Is(err, errStreamCut):
		kind = entities.FailureMalformed
	}
	return &entities.CompletionFailure{Department: department, Kind: kind, Err: err}
}
