// Package ingest runs the document pipeline: extract, chunk, embed and
// persist, with resumable progress and a monotonic document lifecycle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"docchat/ingest/internal/blob"
	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/extract"
	"docchat/ingest/internal/store"
	"docchat/ingest/internal/text"
)

// TextExtractor is satisfied by *extract.Extractor.
type TextExtractor interface {
	Extract(ctx context.Context, raw []byte, format extract.Format) (string, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     store.Store
	Blobs     blob.Getter
	Extractor TextExtractor
	Embedders embedding.Factory
	// Limiter paces provider calls across runs. Optional.
	Limiter *embedding.Limiter
	Logger  *slog.Logger
}

// Request triggers one pipeline run.
type Request struct {
	DocumentKey string
	OwnerID     string
	Credential  embedding.Credential
	// Resume takes over a processing document even if its lease still
	// looks alive. Callers set it after detecting a stalled run.
	Resume bool
}

// Result describes a completed run.
type Result struct {
	DocumentID string
	// NoOp is set when the document was already processed.
	NoOp bool
	// StartIndex is the first chunk index embedded by this run.
	StartIndex int
	Chunks     int
	Embedded   int
}

type Orchestrator struct {
	store     store.Store
	blobs     blob.Getter
	extractor TextExtractor
	factory   embedding.Factory
	limiter   *embedding.Limiter
	chunker   text.Chunker
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Store == nil || deps.Blobs == nil || deps.Extractor == nil || deps.Embedders == nil {
		return nil, errors.New("ingest: store, blobs, extractor and embedders are required")
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	chunker, err := text.NewChunker(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     deps.Store,
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		factory:   deps.Embedders,
		limiter:   deps.Limiter,
		chunker:   chunker,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run processes the document named by req.DocumentKey. It returns
// ErrCanceled when ctx ends first and a *FailedError when the document was
// moved to failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	doc, err := o.store.GetDocumentByKey(ctx, req.DocumentKey)
	if err != nil {
		return nil, fmt.Errorf("lookup document %q: %w", req.DocumentKey, err)
	}
	if doc.OwnerID != req.OwnerID {
		return nil, ErrUnauthorized
	}

	log := o.logger.With("document_id", doc.ID)
	res := &Result{DocumentID: doc.ID}

	if doc.Status == store.StatusProcessed {
		log.InfoContext(ctx, "document already processed", "state", "done")
		res.NoOp = true
		return res, nil
	}

	if err := o.claim(ctx, doc, req.Resume); err != nil {
		if errors.Is(err, errProcessedMeanwhile) {
			log.InfoContext(ctx, "document processed by another run", "state", "done")
			res.NoOp = true
			return res, nil
		}
		return nil, err
	}
	log.InfoContext(ctx, "document claimed", "state", "start", "previous_status", doc.Status)

	stopHeartbeat := o.keepAlive(ctx, doc.ID)
	embedded, total, start, err := o.process(ctx, log, doc, req.Credential)
	stopHeartbeat()

	res.StartIndex, res.Chunks, res.Embedded = start, total, embedded

	switch {
	case err == nil:
		if err := o.store.SetDocumentStatus(context.WithoutCancel(ctx), doc.ID, store.StatusProcessed, ""); err != nil {
			return res, o.fail(ctx, log, doc.ID, req.Credential, err)
		}
		log.InfoContext(ctx, "document processed", "state", "done", "chunks", total, "embedded", embedded)
		return res, nil

	case ctx.Err() != nil:
		if rerr := o.store.Release(context.WithoutCancel(ctx), doc.ID); rerr != nil {
			log.ErrorContext(ctx, "failed to release document lease", "error", rerr)
		}
		log.WarnContext(ctx, "ingestion canceled", "state", "canceled", "embedded", embedded, "next_index", start+embedded)
		return res, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}

	return res, o.fail(ctx, log, doc.ID, req.Credential, err)
}

// errProcessedMeanwhile means another run finished the document between
// the lookup and the claim.
var errProcessedMeanwhile = errors.New("document processed by another run")

// claim moves the document into processing. A fresh upload is started; a
// failed or stalled run is resumed. A live run holding the lease rejects
// the claim with ErrRunInProgress.
func (o *Orchestrator) claim(ctx context.Context, doc *store.Document, force bool) error {
	var err error
	switch doc.Status {
	case store.StatusUploaded:
		err = o.store.SetDocumentStatus(ctx, doc.ID, store.StatusProcessing, "")
	default:
		staleBefore := o.now().Add(-o.opts.StaleAfter)
		if force {
			staleBefore = o.now()
		}
		err = o.store.ResumeDocument(ctx, doc.ID, staleBefore)
	}

	var terr *store.TransitionError
	if errors.As(err, &terr) {
		if terr.From == store.StatusProcessed {
			return errProcessedMeanwhile
		}
		return fmt.Errorf("%w: %s", ErrRunInProgress, doc.ID)
	}
	return err
}

// process runs the extract, chunk and embed stages. It returns the number
// of chunks committed by this run, the total chunk count and the index the
// run started from.
func (o *Orchestrator) process(ctx context.Context, log *slog.Logger, doc *store.Document, cred embedding.Credential) (embedded, total, start int, err error) {
	log.InfoContext(ctx, "extracting document", "state", "extracting")
	raw, err := o.blobs.GetRawBytes(ctx, doc.StorageKey)
	if err != nil {
		return 0, 0, 0, err
	}
	name := doc.FileName
	if name == "" {
		name = doc.StorageKey
	}
	format, err := extract.FormatFromName(name)
	if err != nil {
		return 0, 0, 0, err
	}
	content, err := o.extractor.Extract(ctx, raw, format)
	if err != nil {
		return 0, 0, 0, err
	}

	highest, ok, err := o.store.HighestPersistedIndex(ctx, doc.ID)
	if err != nil {
		return 0, 0, 0, err
	}
	if ok {
		start = highest + 1
	}

	chunks := o.chunker.Chunks(content)
	for range chunks {
		total++
	}
	log.InfoContext(ctx, "document chunked", "state", "chunking", "chunks", total, "resume_index", start)
	if start >= total {
		return 0, total, start, nil
	}

	emb, err := o.factory.New(ctx, cred)
	if err != nil {
		return 0, total, start, err
	}
	defer func() {
		if c, ok := emb.(embedding.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				log.WarnContext(ctx, "failed to close embedder", "error", cerr)
			}
		}
	}()

	embedded, err = o.embedChunks(ctx, log, doc, emb, chunks, start)
	return embedded, total, start, err
}

// outcome is the result of embedding one window.
type outcome struct {
	window text.Window
	vector []float32
	err    error
}

// embedChunks embeds up to Window chunks concurrently and commits them
// strictly in index order, buffering early completions. After the first
// failure nothing new is dispatched; in-flight calls are drained and every
// success below the failed index is still committed.
func (o *Orchestrator) embedChunks(ctx context.Context, log *slog.Logger, doc *store.Document, emb embedding.Embedder, chunks iter.Seq[text.Window], start int) (int, error) {
	pool, err := ants.NewPool(o.opts.Window)
	if err != nil {
		return 0, fmt.Errorf("create embedding pool: %w", err)
	}
	defer pool.Release()

	next, stop := iter.Pull(chunks)
	defer stop()

	results := make(chan outcome, o.opts.Window)
	buffered := make(map[int]outcome, o.opts.Window)
	var (
		commitAt  = start
		inflight  int
		exhausted bool
		failure   error
		failedAt  int
	)
	setFailure := func(idx int, err error) {
		if failure == nil || idx < failedAt {
			failure, failedAt = err, idx
		}
	}

	for {
		for !exhausted && failure == nil && ctx.Err() == nil && inflight < o.opts.Window {
			w, ok := next()
			if !ok {
				exhausted = true
				break
			}
			if w.Index < start {
				continue
			}
			inflight++
			if err := pool.Submit(func() { results <- o.embedWindow(ctx, emb, w) }); err != nil {
				inflight--
				setFailure(w.Index, fmt.Errorf("dispatch chunk %d: %w", w.Index, err))
			}
		}
		if inflight == 0 {
			break
		}

		r := <-results
		inflight--
		if r.err != nil {
			if ctx.Err() == nil {
				log.WarnContext(ctx, "chunk embedding failed", "state", "embedding", "chunk_index", r.window.Index, "error", r.err)
				setFailure(r.window.Index, r.err)
			}
			continue
		}
		buffered[r.window.Index] = r

		for ctx.Err() == nil && (failure == nil || commitAt < failedAt) {
			c, ok := buffered[commitAt]
			if !ok {
				break
			}
			delete(buffered, commitAt)
			if err := o.commit(ctx, doc, c); err != nil {
				setFailure(commitAt, err)
				break
			}
			log.DebugContext(ctx, "chunk committed", "state", "embedding", "chunk_index", commitAt)
			commitAt++
		}
	}

	if failure != nil {
		return commitAt - start, failure
	}
	return commitAt - start, ctx.Err()
}

func (o *Orchestrator) embedWindow(ctx context.Context, emb embedding.Embedder, w text.Window) outcome {
	vec, err := o.embedWithRetry(ctx, emb, w.Content)
	if err == nil {
		if verr := embedding.CheckVector(vec, o.factory.Dimension()); verr != nil {
			err = &embedding.Error{Kind: embedding.KindMalformedResponse, Provider: o.factory.Name(), Err: verr}
		}
	}
	if err != nil {
		return outcome{window: w, err: fmt.Errorf("chunk %d: %w", w.Index, err)}
	}
	return outcome{window: w, vector: vec}
}

func (o *Orchestrator) commit(ctx context.Context, doc *store.Document, r outcome) error {
	return o.store.UpsertChunk(ctx, store.Chunk{
		ID:            store.ChunkID(doc.ID, r.window.Index),
		DocumentID:    doc.ID,
		OwnerID:       doc.OwnerID,
		SequenceIndex: r.window.Index,
		Content:       r.window.Content,
		Embedding:     r.vector,
		Metadata: map[string]any{
			store.MetaFileName:     doc.FileName,
			store.MetaChunkSize:    o.chunker.Size(),
			store.MetaChunkOverlap: o.chunker.Overlap(),
			store.MetaCharStart:    r.window.Start,
			store.MetaCharEnd:      r.window.End,
		},
	})
}

// fail moves the document to failed with a caller-safe reason. Chunks
// already persisted are kept.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, id string, cred embedding.Credential, cause error) error {
	reason := SafeReason(cause, cred)
	log.ErrorContext(ctx, "ingestion failed", "state", "failed", "reason", reason, "error", cred.Redact(cause.Error()))

	if err := o.store.SetDocumentStatus(context.WithoutCancel(ctx), id, store.StatusFailed, reason); err != nil {
		log.ErrorContext(ctx, "failed to record document failure", "error", err)
		return errors.Join(&FailedError{DocumentID: id, Reason: reason, Err: cause}, err)
	}
	return &FailedError{DocumentID: id, Reason: reason, Err: cause}
}

// keepAlive refreshes the document lease until the returned func is
// called.
func (o *Orchestrator) keepAlive(ctx context.Context, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.opts.heartbeatEvery())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.store.Heartbeat(ctx, id); err != nil && ctx.Err() == nil {
					o.logger.WarnContext(ctx, "failed to refresh document lease", "document_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
