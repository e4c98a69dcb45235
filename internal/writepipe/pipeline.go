package writepipe

import (
	"context"
	"sync"
	"time"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/falense/b2-fuse/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultDebounce is the delay between a write being staged and promoted to
// the upload queue, used to coalesce bursts of writes to the same key.
const DefaultDebounce = 15 * time.Second

const defaultQueueCapacity = 256
const defaultWorkerCount = 8
const stagerTick = 250 * time.Millisecond

// CacheSink receives the speculative patches described in §4.2/§4.5: a
// put_file or delete_file is reflected into the cached listing immediately,
// before the remote operation has even been attempted, so the next readdir
// agrees with the user's just-issued mutation.
type CacheSink interface {
	AddFile(fi b2api.FileInfo)
	RemoveFile(key string)
}

type stagedEntry struct {
	lastTouch time.Time
	kind      OpKind
	payload   []byte
}

// Config configures a Pipeline.
type Config struct {
	Debounce      time.Duration // DefaultDebounce if <= 0
	QueueCapacity int           // defaultQueueCapacity if <= 0
	Workers       int           // defaultWorkerCount if <= 0
}

// Pipeline is the Async Write Pipeline.
type Pipeline struct {
	client   b2api.Client
	cache    CacheSink
	log      zerolog.Logger
	debounce time.Duration

	stageMu sync.Mutex
	staging map[string]*stagedEntry

	queue *readyQueue
	locks *lockTable

	workers int
	group   *errgroup.Group
	cancel  context.CancelFunc

	stagerDone chan struct{}

	metrics *metrics.Collector
}

// New builds a Pipeline bound to client for remote operations and cache for
// speculative listing patches. mcol may be nil, in which case the queue-depth
// and upload-latency instruments are simply not recorded. Call Start to begin
// processing.
func New(client b2api.Client, cache CacheSink, log zerolog.Logger, cfg Config, mcol *metrics.Collector) *Pipeline {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = defaultQueueCapacity
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	return &Pipeline{
		client:   client,
		cache:    cache,
		log:      log.With().Str("component", "writepipe").Logger(),
		debounce: debounce,
		staging:  make(map[string]*stagedEntry),
		queue:    newReadyQueue(cap),
		locks:    newLockTable(),
		workers:  workers,
		metrics:  mcol,
	}
}

// PutFile stages an upload and returns immediately with a synthesized
// FileInfo (no remote id yet — the real version lands asynchronously).
// The cache is patched speculatively so the path is visible right away.
func (p *Pipeline) PutFile(key string, data []byte) b2api.FileInfo {
	payload := make([]byte, len(data))
	copy(payload, data)

	fi := b2api.FileInfo{
		Name:   key,
		Action: b2api.ActionUpload,
		Size:   int64(len(data)),
	}

	p.stageMu.Lock()
	p.staging[key] = &stagedEntry{lastTouch: time.Now(), kind: OpUpload, payload: payload}
	p.stageMu.Unlock()

	if p.cache != nil {
		p.cache.AddFile(fi)
	}
	return fi
}

// DeleteFile stages a delete. If an upload for the same key is still
// sitting in the staging map (not yet promoted), the delete supersedes it.
func (p *Pipeline) DeleteFile(key string) {
	p.stageMu.Lock()
	p.staging[key] = &stagedEntry{lastTouch: time.Now(), kind: OpDelete}
	p.stageMu.Unlock()

	if p.cache != nil {
		p.cache.RemoveFile(key)
	}
}

// Start launches the stager coordinator and the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	stagerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	p.group = group

	p.stagerDone = make(chan struct{})
	go p.runStager(stagerCtx)

	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			p.runWorker(gctx)
			return nil
		})
	}
}

// Shutdown promotes every remaining staged entry immediately, closes the
// queue once drained, and joins every worker.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.stagerDone

	p.promoteAll()
	p.queue.Close()

	if p.group != nil {
		return p.group.Wait()
	}
	return nil
}

func (p *Pipeline) runStager(ctx context.Context) {
	ticker := time.NewTicker(stagerTick)
	defer ticker.Stop()
	defer close(p.stagerDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.promoteDue()
		}
	}
}

func (p *Pipeline) promoteDue() {
	now := time.Now()
	p.stageMu.Lock()
	due := make([]PendingOp, 0)
	for key, e := range p.staging {
		if now.Sub(e.lastTouch) >= p.debounce {
			due = append(due, PendingOp{Key: key, Kind: e.kind, Payload: e.payload, Timestamp: e.lastTouch.UnixMilli()})
			delete(p.staging, key)
		}
	}
	p.stageMu.Unlock()

	for _, op := range due {
		p.queue.Push(op)
	}
	p.metrics.SetQueueDepth(p.queue.Len())
}

func (p *Pipeline) promoteAll() {
	p.stageMu.Lock()
	due := make([]PendingOp, 0, len(p.staging))
	for key, e := range p.staging {
		due = append(due, PendingOp{Key: key, Kind: e.kind, Payload: e.payload, Timestamp: e.lastTouch.UnixMilli()})
		delete(p.staging, key)
	}
	p.stageMu.Unlock()

	for _, op := range due {
		p.queue.Push(op)
	}
	p.metrics.SetQueueDepth(p.queue.Len())
}

func (p *Pipeline) runWorker(ctx context.Context) {
	for {
		op, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.metrics.SetQueueDepth(p.queue.Len())
		p.execute(ctx, op)
	}
}

// execute performs op's remote operation under key's lock, so a concurrent
// get_file on the same key observes a before-or-after state. Unhandled
// failures are logged and the op is dropped (at-most-once), per §4.5.
func (p *Pipeline) execute(ctx context.Context, op PendingOp) {
	p.locks.WithLock(op.Key, func() {
		var err error
		switch op.Kind {
		case OpUpload:
			start := time.Now()
			_, err = p.client.Upload(ctx, op.Key, op.Payload)
			p.metrics.ObserveUploadSeconds(time.Since(start).Seconds())
			if err != nil {
				p.metrics.IncUploadError()
			}
		case OpDelete:
			err = purgeAllVersions(ctx, p.client, op.Key)
		}
		if err != nil {
			p.log.Warn().Err(err).Str("key", op.Key).Str("kind", op.Kind.String()).Msg("pipeline op failed, dropping")
		}
	})
}

func purgeAllVersions(ctx context.Context, client b2api.Client, key string) error {
	versions, err := client.ListVersions(ctx, key)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := client.DeleteVersion(ctx, v.ID, key); err != nil {
			return err
		}
	}
	return nil
}

// WithKeyLock runs fn while holding key's per-key mutex, letting a
// synchronous caller (e.g. a direct get_file) observe pipeline mutations to
// key atomically rather than mid-flight.
func (p *Pipeline) WithKeyLock(key string, fn func()) {
	p.locks.WithLock(key, fn)
}

// QueueDepth reports the number of ready (promoted but not yet executed)
// ops; the pipeline-queue-depth gauge is set from the same count.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}
