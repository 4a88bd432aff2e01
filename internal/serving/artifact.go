package serving

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ai-image-detector/internal/vision"
)

// Artifact is one loaded classifier. It is never mutated after load; the handle
// replaces it wholesale. The session is closed once the handle has retired the
// artifact and the last in-flight inference has released it.
type Artifact struct {
	path     string
	modTime  time.Time
	loadedAt time.Time
	session  vision.Session
	log      *zap.Logger

	// refs counts holders, including the handle while the artifact is published.
	refs      atomic.Int32
	closeOnce sync.Once
}

// ArtifactInfo is a read-only description of an artifact.
type ArtifactInfo struct {
	Path     string    `json:"path"`
	ModTime  time.Time `json:"mod_time"`
	LoadedAt time.Time `json:"loaded_at"`
}

func newArtifact(path string, modTime time.Time, session vision.Session, log *zap.Logger) *Artifact {
	a := &Artifact{
		path:     path,
		modTime:  modTime,
		loadedAt: time.Now(),
		session:  session,
		log:      log,
	}
	a.refs.Store(1)
	return a
}

func (a *Artifact) Path() string        { return a.path }
func (a *Artifact) ModTime() time.Time  { return a.modTime }
func (a *Artifact) LoadedAt() time.Time { return a.loadedAt }

func (a *Artifact) Info() ArtifactInfo {
	return ArtifactInfo{Path: a.path, ModTime: a.modTime, LoadedAt: a.loadedAt}
}

// tryAcquire takes a reference unless the artifact is already being destroyed.
func (a *Artifact) tryAcquire() bool {
	for {
		n := a.refs.Load()
		if n <= 0 {
			return false
		}
		if a.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference; the last one closes the session.
func (a *Artifact) Release() {
	if a.refs.Add(-1) == 0 {
		a.destroy()
	}
}

func (a *Artifact) destroy() {
	a.closeOnce.Do(func() {
		if a.session == nil {
			return
		}
		if err := a.session.Close(); err != nil {
			a.log.Warn("close model session failed", zap.String("path", a.path), zap.Error(err))
		}
	})
}
