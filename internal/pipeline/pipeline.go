// Package pipeline streams a provider response through decode, remap and
// encode into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/encode"
	"github.com/featurestream/featurestream/internal/observability"
	"github.com/featurestream/featurestream/internal/provider"
	"github.com/featurestream/featurestream/internal/query"
	"github.com/featurestream/featurestream/internal/stream"
)

type State int

const (
	StateIdle State = iota
	StateEnvelopeOpened
	StateStreaming
	StateEnvelopeClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnvelopeOpened:
		return "envelope_opened"
	case StateStreaming:
		return "streaming"
	case StateEnvelopeClosed:
		return "envelope_closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// OutputRequest is the per-run output configuration.
type OutputRequest struct {
	Download     bool
	Format       encode.Format
	RowCountOnly bool
	// Timeout bounds consumption of the provider stream. Zero uses
	// DefaultTimeout.
	Timeout time.Duration
}

func (o OutputRequest) envelope() encode.Envelope {
	return encode.Envelope{Format: o.Format, Download: o.Download}
}

// Validate rejects unknown formats and inline CSV.
func (o OutputRequest) Validate() error {
	if _, err := encode.ParseFormat(string(o.Format)); err != nil {
		return apperr.BadRequest(http.StatusBadRequest, err.Error())
	}
	if err := o.envelope().Validate(); err != nil {
		return apperr.BadRequest(http.StatusBadRequest, err.Error())
	}
	return nil
}

type Request struct {
	Descriptor   query.Descriptor
	Params       provider.Params
	ConnectorURL string
	Output       OutputRequest
	// Meta is written after the rows of inline envelopes.
	Meta encode.Meta
}

type Result struct {
	RowsWritten        int
	TruncatedByTimeout bool
	RequestURL         string
	// DroppedColumns are row keys with no output column. Only CSV drops
	// columns, when later rows carry keys the first row did not.
	DroppedColumns []string
}

// Upstream opens the provider response stream.
type Upstream interface {
	Query(ctx context.Context, requestURL string) (*provider.Response, error)
}

// Pipeline holds the dependencies shared by all runs. Each call to Run owns
// its own decoder, encoder and timer.
type Pipeline struct {
	Upstream Upstream
	Logger   *slog.Logger
	// AfterFunc replaces the guard clock in tests.
	AfterFunc AfterFunc
}

type flusher interface {
	Flush() error
}

// Run streams one query into sink. A guard timeout is not an error: the
// envelope is closed and Result.TruncatedByTimeout is set. Failures are
// returned as *apperr.Error, except caller cancellation and sink write
// failures, which are returned wrapped as is. A row the encoder rejects is an
// upstream failure.
func (p *Pipeline) Run(ctx context.Context, req Request, sink io.Writer) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &run{
		upstream: p.Upstream,
		guard:    Guard{Timeout: req.Output.Timeout, AfterFunc: p.AfterFunc},
		logger:   logger.With("format", string(req.Output.Format), "download", req.Output.Download),
		req:      req,
		sink:     sink,
	}

	started := time.Now()
	result, err := r.execute(ctx)
	elapsed := time.Since(started)

	format := string(req.Output.Format)
	switch {
	case err == nil:
		outcome := "completed"
		if result.TruncatedByTimeout {
			outcome = "truncated"
			observability.IncPipelineTruncated(format)
		}
		observability.ObservePipelineRun(format, outcome, result.RowsWritten, elapsed)
		if len(result.DroppedColumns) > 0 {
			r.logger.WarnContext(ctx, "rows carried columns missing from the csv header",
				"dropped_columns", result.DroppedColumns,
				"request_url", result.RequestURL,
			)
		}
		r.logger.InfoContext(ctx, "pipeline completed",
			"rows", result.RowsWritten,
			"truncated", result.TruncatedByTimeout,
			"duration_ms", elapsed.Milliseconds(),
		)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		observability.ObservePipelineRun(format, "aborted", result.RowsWritten, elapsed)
		r.logger.WarnContext(ctx, "pipeline aborted by caller", "rows", result.RowsWritten, "error", err)
	default:
		kind := "sink"
		if appErr, ok := apperr.As(err); ok {
			kind = string(appErr.Kind)
		}
		observability.IncPipelineError(kind)
		observability.ObservePipelineRun(format, "failed", result.RowsWritten, elapsed)
		attrs := []any{
			"kind", kind,
			"request_url", result.RequestURL,
			"rows", result.RowsWritten,
			"error", err,
		}
		var providerErr *stream.ProviderError
		if errors.As(err, &providerErr) {
			attrs = append(attrs, "provider_code", providerErr.Code, "provider_details", providerErr.Details)
		}
		r.logger.ErrorContext(ctx, "pipeline failed", attrs...)
	}
	return result, err
}

type run struct {
	upstream Upstream
	guard    Guard
	logger   *slog.Logger
	req      Request
	sink     io.Writer
	state    State
	result   Result
}

func (r *run) transition(ctx context.Context, next State) {
	r.logger.DebugContext(ctx, "pipeline state", "from", r.state.String(), "to", next.String())
	r.state = next
}

func (r *run) fail(ctx context.Context, err error) (Result, error) {
	r.transition(ctx, StateFailed)
	return r.result, err
}

func (r *run) execute(ctx context.Context) (Result, error) {
	output := r.req.Output
	if err := output.Validate(); err != nil {
		return r.fail(ctx, err)
	}
	encoder, err := encode.New(output.Format)
	if err != nil {
		return r.fail(ctx, Classify(err, StageBeforeRequest, ""))
	}
	envelope := output.envelope()

	if err := r.write(envelope.Open()); err != nil {
		return r.fail(ctx, fmt.Errorf("write envelope: %w", err))
	}
	r.transition(ctx, StateEnvelopeOpened)

	requestURL := provider.BuildQueryURL(r.req.ConnectorURL, r.req.Params)
	r.result.RequestURL = requestURL

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	resp, err := r.upstream.Query(streamCtx, requestURL)
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx, envelope)
		}
		return r.fail(ctx, Classify(err, StageAfterRequest, requestURL))
	}
	defer func() { _ = resp.Body.Close() }()

	token, stopGuard := r.guard.Start()
	defer stopGuard()
	r.transition(ctx, StateStreaming)

	decoder := stream.NewDecoder(resp.Body, stream.SelectMode(output.RowCountOnly, output.Format == encode.FormatGeoJSON))
	rows := make(chan *query.Row)
	group, groupCtx := errgroup.WithContext(streamCtx)
	group.Go(func() error {
		defer close(rows)
		for {
			row, err := decoder.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case rows <- row:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})

	consumeErr := r.consume(ctx, rows, token, encoder, output.Format)
	cancelStream()
	decodeErr := group.Wait()
	if reporter, ok := encoder.(encode.ColumnReporter); ok {
		r.result.DroppedColumns = reporter.DroppedColumns()
	}

	var rowErr *RowError
	switch {
	case errors.As(consumeErr, &rowErr):
		return r.fail(ctx, Classify(consumeErr, StageAfterRequest, requestURL))
	case consumeErr != nil:
		return r.fail(ctx, fmt.Errorf("write row: %w", consumeErr))
	case r.result.TruncatedByTimeout:
		// Decoder errors after the guard fired come from the cancelled stream.
	case ctx.Err() != nil:
		return r.abort(ctx, envelope)
	case decodeErr != nil:
		return r.fail(ctx, Classify(decodeErr, StageAfterRequest, requestURL))
	}

	if err := r.close(envelope); err != nil {
		return r.fail(ctx, fmt.Errorf("write envelope: %w", err))
	}
	r.transition(ctx, StateEnvelopeClosed)
	return r.result, nil
}

// consume moves rows from the decoder to the sink in order until the decoder
// finishes, the guard fires or the caller goes away. Encoder failures are
// returned as *RowError; any other error came from the sink.
func (r *run) consume(ctx context.Context, rows <-chan *query.Row, token *Token, encoder encode.Encoder, format encode.Format) error {
	for {
		select {
		case <-token.Done():
			r.result.TruncatedByTimeout = true
			return nil
		case <-ctx.Done():
			return nil
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			// A row received in the same instant the guard fired is dropped.
			if token.Cancelled() {
				r.result.TruncatedByTimeout = true
				return nil
			}
			remapTarget(row, format, r.req.Descriptor)
			fragment, err := encoder.Encode(row, r.result.RowsWritten == 0)
			if err != nil {
				return &RowError{Row: r.result.RowsWritten, Err: err}
			}
			if err := r.write(fragment); err != nil {
				return err
			}
			r.result.RowsWritten++
		}
	}
}

// remapTarget applies column remapping to the attributes of a feature in
// GeoJSON mode and to the row itself otherwise.
func remapTarget(row *query.Row, format encode.Format, descriptor query.Descriptor) {
	if format != encode.FormatGeoJSON {
		query.Remap(row, descriptor)
		return
	}
	if value, ok := row.Get("attributes"); ok {
		if attributes, ok := value.(*query.Row); ok {
			query.Remap(attributes, descriptor)
		}
	}
}

// abort closes the envelope on a best-effort basis after the caller went away.
func (r *run) abort(ctx context.Context, envelope encode.Envelope) (Result, error) {
	if err := r.close(envelope); err == nil {
		r.transition(ctx, StateEnvelopeClosed)
	} else {
		r.transition(ctx, StateFailed)
	}
	return r.result, fmt.Errorf("pipeline aborted: %w", context.Cause(ctx))
}

func (r *run) close(envelope encode.Envelope) error {
	closing, err := envelope.Close(r.req.Meta)
	if err != nil {
		return err
	}
	if err := r.write(closing); err != nil {
		return err
	}
	if f, ok := r.sink.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func (r *run) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := r.sink.Write(p)
	return err
}
