package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/fetchd/internal/artifact"
	"github.com/you/fetchd/internal/domain"
	"github.com/you/fetchd/internal/fetch"
	"github.com/you/fetchd/internal/queue"
	"github.com/you/fetchd/internal/storage"
)

// outputTemplate is the yt-dlp/gallery-dl output pattern. Keeping the job
// id as the filename stem is what lets the resolver find the result by
// prefix no matter what extension the tool picked.
const outputTemplate = "%s.%%(ext)s"

// dequeueRetryDelay paces the loop when the queue backend is erroring, so
// an unreachable Redis does not turn the workers into a hot spin.
const dequeueRetryDelay = time.Second

// Pool drains the queue with a fixed number of workers and drives each
// dequeued job through the fetch protocol. A job is dequeued by exactly one
// worker and never re-enqueued, so at most one execution per job exists.
type Pool struct {
	store      storage.Store
	queue      queue.Queue
	fetcher    fetch.Fetcher
	relocator  *artifact.Relocator
	scratchDir string
	size       int
	timeout    time.Duration
	log        *zap.Logger
}

type Options struct {
	Store      storage.Store
	Queue      queue.Queue
	Fetcher    fetch.Fetcher
	Relocator  *artifact.Relocator
	ScratchDir string
	Size       int
	Timeout    time.Duration
	Log        *zap.Logger
}

func NewPool(opts Options) *Pool {
	size := opts.Size
	if size <= 0 {
		size = 1
	}
	return &Pool{
		store:      opts.Store,
		queue:      opts.Queue,
		fetcher:    opts.Fetcher,
		relocator:  opts.Relocator,
		scratchDir: opts.ScratchDir,
		size:       size,
		timeout:    opts.Timeout,
		log:        opts.Log,
	}
}

// Run blocks until ctx is canceled and every worker has drained out.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			p.loop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("dequeue failed", zap.Error(err))
			select {
			case <-time.After(dequeueRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		p.process(ctx, id)
	}
}

// process runs the whole fetch protocol for one job. Every failure inside
// it becomes a Failed transition; nothing propagates out, so a bad job can
// never take a worker down with it.
func (p *Pool) process(ctx context.Context, id string) {
	log := p.log.With(zap.String("job_id", id))

	if err := p.store.Transition(ctx, id, domain.Downloading, domain.TransitionFields{}); err != nil {
		log.Error("cannot mark job downloading", zap.Error(err))
		return
	}

	scratch := filepath.Join(p.scratchDir, id)
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("scratch cleanup failed", zap.Error(err))
		}
	}()

	name, err := p.execute(ctx, id, scratch, log)
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		p.fail(ctx, id, err, log)
		return
	}

	if err := p.store.Transition(ctx, id, domain.Completed, domain.TransitionFields{ArtifactName: name}); err != nil {
		log.Error("cannot mark job completed", zap.Error(err))
		return
	}
	log.Info("job completed", zap.String("artifact", name))
}

// execute runs fetch, resolve and relocate, returning the durable artifact
// name.
func (p *Pool) execute(ctx context.Context, id, scratch string, log *zap.Logger) (string, error) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}

	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	fctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	template := filepath.Join(scratch, fmt.Sprintf(outputTemplate, id))
	if err := p.fetcher.Fetch(fctx, job.URL, template); err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("fetch timed out after %s", p.timeout)
		}
		return "", err
	}

	// A zero exit status alone never implies success; the artifact has
	// to actually be there.
	path, filename, err := artifact.Resolve(scratch, id)
	if err != nil {
		return "", err
	}

	name, err := p.relocator.Relocate(path, filename, id)
	if err != nil {
		return "", fmt.Errorf("relocate artifact: %w", err)
	}
	return name, nil
}

func (p *Pool) fail(ctx context.Context, id string, cause error, log *zap.Logger) {
	// The transition must land even when ctx is already canceled
	// (shutdown mid-job), so detach from it.
	err := p.store.Transition(context.WithoutCancel(ctx), id, domain.Failed,
		domain.TransitionFields{ErrorMessage: cause.Error()})
	if err != nil {
		log.Error("cannot mark job failed", zap.Error(err))
	}
}
