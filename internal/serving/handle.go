package serving

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ai-image-detector/internal/vision"
)

var (
	ErrModelUnavailable = errors.New("model not loaded")
	ErrLoad             = errors.New("load model failed")
	ErrClosed           = errors.New("model handle closed")
)

const observerTimeout = 5 * time.Second

// Backend opens a classifier artifact from disk.
type Backend interface {
	Open(ctx context.Context, path string) (vision.Session, error)
}

// LoadObserver is notified after every load attempt, successful or not.
type LoadObserver interface {
	ObserveLoad(ctx context.Context, ev LoadEvent)
}

type Options struct {
	Path        string
	Policy      Policy
	LoadTimeout time.Duration
	Logger      *zap.Logger
	Observers   []LoadObserver
}

// Handle owns the currently published classifier artifact. Reads are lock-free;
// a reload builds the replacement off to the side and swaps it in atomically, so
// readers see either the previous artifact or the new one, never a partial load.
type Handle struct {
	backend     Backend
	path        string
	policy      Policy
	loadTimeout time.Duration
	log         *zap.Logger
	observers   []LoadObserver

	current atomic.Pointer[Artifact]
	// failedModTime is the mtime (UnixNano) of the last file version that failed to
	// load; that version is not retried until the file changes again.
	failedModTime atomic.Int64
	reloading     atomic.Bool
	group         singleflight.Group

	mu     sync.Mutex // guards closed, the publish swap and wg.Add
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHandle(backend Backend, opts Options) *Handle {
	if opts.Policy == "" {
		opts.Policy = PolicyIfModified
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		backend:     backend,
		path:        opts.Path,
		policy:      opts.Policy,
		loadTimeout: opts.LoadTimeout,
		log:         opts.Logger,
		observers:   opts.Observers,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Handle) Path() string   { return h.path }
func (h *Handle) Policy() Policy { return h.policy }

// Current returns the published artifact or nil. It never blocks.
func (h *Handle) Current() *Artifact {
	return h.current.Load()
}

func (h *Handle) Loaded() bool {
	return h.current.Load() != nil
}

func (h *Handle) Info() *ArtifactInfo {
	a := h.current.Load()
	if a == nil {
		return nil
	}
	info := a.Info()
	return &info
}

// Acquire returns the published artifact with a reference held. Callers must
// Release it when the inference is done.
func (h *Handle) Acquire() (*Artifact, error) {
	for {
		a := h.current.Load()
		if a == nil {
			return nil, ErrModelUnavailable
		}
		if a.tryAcquire() {
			return a, nil
		}
		// Retired between Load and tryAcquire; the pointer now holds its successor.
	}
}

// Init attempts the startup load. A missing file is not fatal: the service starts
// and reports the model as not loaded until the file appears.
func (h *Handle) Init(ctx context.Context) error {
	return h.loadIfPresent(ctx, TriggerStartup)
}

// Load reads an artifact from path within the load timeout. It does not publish.
// The caller owns the returned artifact and must Release it if not published.
func (h *Handle) Load(ctx context.Context, path string) (*Artifact, error) {
	a, _, err := h.load(ctx, path)
	return a, err
}

func (h *Handle) load(ctx context.Context, path string) (*Artifact, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if info.IsDir() {
		return nil, time.Time{}, fmt.Errorf("%w: %s is a directory", ErrLoad, path)
	}
	modTime := info.ModTime()

	loadCtx, cancel := context.WithTimeout(ctx, h.loadTimeout)
	defer cancel()

	type result struct {
		session vision.Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		session, err := h.backend.Open(loadCtx, path)
		done <- result{session: session, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, modTime, fmt.Errorf("%w: %s: %w", ErrLoad, path, r.err)
		}
		return newArtifact(path, modTime, r.session, h.log), modTime, nil
	case <-loadCtx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.session.Close()
			}
		}()
		return nil, modTime, fmt.Errorf("%w: %s: %w", ErrLoad, path, loadCtx.Err())
	}
}

// Reload loads path and publishes it. On failure the current artifact keeps
// serving. Concurrent reloads of the same path share one load.
func (h *Handle) Reload(ctx context.Context, path string) error {
	return h.reload(ctx, path, TriggerManual)
}

// reload runs the shared load under the handle's lifecycle context, so a caller
// that gives up does not fail the load for everyone else waiting on it.
func (h *Handle) reload(ctx context.Context, path string, trigger Trigger) error {
	results := h.group.DoChan(path, func() (any, error) {
		if !h.track() {
			return nil, ErrClosed
		}
		defer h.wg.Done()
		return nil, h.loadAndPublish(h.ctx, path, trigger)
	})

	select {
	case res := <-results:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrLoad, path, ctx.Err())
	}
}

func (h *Handle) loadAndPublish(ctx context.Context, path string, trigger Trigger) error {
	start := time.Now()
	next, modTime, err := h.load(ctx, path)
	if err == nil {
		err = h.publish(next)
	}

	ev := LoadEvent{
		Path:     path,
		ModTime:  modTime,
		Trigger:  trigger,
		Success:  err == nil,
		Duration: time.Since(start),
		At:       start,
	}
	fields := []zap.Field{
		zap.String("path", path),
		zap.String("trigger", string(trigger)),
		zap.Duration("duration", ev.Duration),
	}

	if err != nil {
		ev.Error = err.Error()
		if !modTime.IsZero() && !isTransient(err) {
			h.failedModTime.Store(modTime.UnixNano())
		}
		if cur := h.current.Load(); cur != nil {
			h.log.Warn("model reload failed, keeping current artifact",
				append(fields, zap.String("current", cur.path), zap.Error(err))...)
		} else {
			h.log.Warn("model load failed", append(fields, zap.Error(err))...)
		}
	} else {
		h.failedModTime.Store(0)
		h.log.Info("model published", append(fields, zap.Time("mod_time", modTime))...)
	}

	h.notify(ev)
	return err
}

// isTransient reports load failures that say nothing about the artifact itself.
// The same file version is retried after them.
func isTransient(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrClosed)
}

func (h *Handle) publish(next *Artifact) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		next.Release()
		return ErrClosed
	}
	prev := h.current.Swap(next)
	h.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return nil
}

func (h *Handle) notify(ev LoadEvent) {
	if len(h.observers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	for _, o := range h.observers {
		o.ObserveLoad(ctx, ev)
	}
}

// Refresh applies the freshness policy before a request is served. With nothing
// published it loads synchronously, so the service recovers as soon as the file
// appears; ctx only bounds the wait, the load itself finishes even if the caller
// leaves. Otherwise reloads run in the background and the request is served by
// the artifact that is current now.
func (h *Handle) Refresh(ctx context.Context) {
	cur := h.current.Load()
	if cur == nil {
		_ = h.loadIfPresent(ctx, TriggerRequest)
		return
	}

	switch h.policy {
	case PolicyAlways:
		h.ReloadAsync(TriggerRequest)
	case PolicyIfModified:
		if h.changedSince(cur) {
			h.ReloadAsync(TriggerRequest)
		}
	case PolicyNever:
	}
}

// ReloadAsync starts a background reload of the current artifact's path unless
// one is already running. It reports whether a reload was started.
func (h *Handle) ReloadAsync(trigger Trigger) bool {
	if !h.reloading.CompareAndSwap(false, true) {
		return false
	}
	if !h.track() {
		h.reloading.Store(false)
		return false
	}

	path := h.reloadPath()
	go func() {
		defer h.wg.Done()
		defer h.reloading.Store(false)
		_ = h.reload(h.ctx, path, trigger)
	}()
	return true
}

// OnReloadSignal handles a broadcast "artifact changed" signal by reloading the
// current artifact in the background. The announced path is only logged; the
// handle never switches to a path it was not configured with.
func (h *Handle) OnReloadSignal(path string) {
	if path != "" && path != h.reloadPath() {
		h.log.Info("reload signal for another path", zap.String("path", path), zap.String("serving", h.reloadPath()))
	}
	h.ReloadAsync(TriggerSignal)
}

// Watch polls the artifact file every interval and reloads it when it changes.
func (h *Handle) Watch(interval time.Duration) {
	if interval <= 0 || !h.track() {
		return
	}
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				h.poll()
			}
		}
	}()
}

func (h *Handle) poll() {
	cur := h.current.Load()
	if cur == nil {
		_ = h.loadIfPresent(h.ctx, TriggerWatch)
		return
	}
	if h.changedSince(cur) {
		_ = h.reload(h.ctx, cur.path, TriggerWatch)
	}
}

// track registers a background goroutine unless the handle is closed.
func (h *Handle) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Handle) reloadPath() string {
	if cur := h.current.Load(); cur != nil {
		return cur.path
	}
	return h.path
}

func (h *Handle) loadIfPresent(ctx context.Context, trigger Trigger) error {
	info, err := os.Stat(h.path)
	if err != nil {
		if trigger == TriggerStartup {
			h.log.Warn("model artifact not found", zap.String("path", h.path), zap.Error(err))
		}
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if h.failedModTime.Load() == info.ModTime().UnixNano() {
		return fmt.Errorf("%w: artifact version already failed to load", ErrModelUnavailable)
	}
	return h.reload(ctx, h.path, trigger)
}

func (h *Handle) changedSince(cur *Artifact) bool {
	info, err := os.Stat(cur.path)
	if err != nil {
		return false
	}
	modTime := info.ModTime()
	if modTime.Equal(cur.modTime) {
		return false
	}
	return h.failedModTime.Load() != modTime.UnixNano()
}

// Infer runs one forward pass on an acquired artifact.
func (h *Handle) Infer(ctx context.Context, a *Artifact, input vision.Tensor) (float32, error) {
	score, err := a.session.Run(ctx, input)
	if err != nil {
		if errors.Is(err, vision.ErrInference) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", vision.ErrInference, err)
	}
	if err := vision.ValidateScore(score); err != nil {
		return 0, err
	}
	return score, nil
}

// Predict acquires the current artifact, runs Infer and releases it.
func (h *Handle) Predict(ctx context.Context, input vision.Tensor) (float32, error) {
	a, err := h.Acquire()
	if err != nil {
		return 0, err
	}
	defer a.Release()
	return h.Infer(ctx, a, input)
}

// Close unpublishes the artifact, stops background reloads and closes the session
// once in-flight inferences have released it.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	prev := h.current.Swap(nil)
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	if prev != nil {
		prev.Release()
	}
}
