package usecases

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// DefaultInboxSettle is how long a file must stay quiet before it is ingested.
const DefaultInboxSettle = 500 * time.Millisecond

// InboxRunner ingests files dropped into <inbox>/<Department>/<file>.
// A file is ingested once its writes have settled; every later change
// is stored as a new document since evidence is never replaced.
type InboxRunner struct {
	ingest      *IngestUseCase
	loader      ports.DocumentLoader
	watcher     ports.FileWatcher
	departments func() []string
	settle      time.Duration
	logger      *zap.Logger
}

// NewInboxRunner creates an InboxRunner. departments lists the departments
// files may be filed under; folders matching none of them are ignored.
func NewInboxRunner(
	ingest *IngestUseCase,
	loader ports.DocumentLoader,
	watcher ports.FileWatcher,
	departments func() []string,
	settle time.Duration,
	logger *zap.Logger,
) *InboxRunner {
	if settle <= 0 {
		settle = DefaultInboxSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxRunner{
		ingest:      ingest,
		loader:      loader,
		watcher:     watcher,
		departments: departments,
		settle:      settle,
		logger:      logger.Named("inbox"),
	}
}

// Run watches dir until ctx is done or the watcher closes its channel.
func (r *InboxRunner) Run(ctx context.Context, dir string) error {
	events, err := r.watcher.Watch(ctx, dir)
	if err != nil {
		return err
	}
	r.logger.Info("watching inbox", zap.String("dir", dir))

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		ready  = make(chan string, 16)
		stop   = make(chan struct{})
	)
	defer func() {
		close(stop)
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	// track (re)starts the settle timer for a path. A callback that already
	// started finds its timer replaced and drops the path.
	track := func(ev ports.FileEvent) {
		if ev.Operation == ports.FileDeleted {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[ev.Path]; ok && t.Stop() {
			t.Reset(r.settle)
			return
		}
		path := ev.Path
		var t *time.Timer
		t = time.AfterFunc(r.settle, func() {
			mu.Lock()
			current := timers[path] == t
			if current {
				delete(timers, path)
			}
			mu.Unlock()
			if !current {
				return
			}
			select {
			case ready <- path:
			case <-stop:
			}
		})
		timers[path] = t
	}
	pending := func(path string) bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := timers[path]
		return ok
	}

	for {
		// Events first, so a queued path is not ingested ahead of a later write.
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			track(ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			track(ev)
		case path := <-ready:
			// A newer timer owns the path and will ingest it once it settles.
			if pending(path) {
				continue
			}
			r.ingestPath(ctx, dir, path)
		}
	}
}

func (r *InboxRunner) ingestPath(ctx context.Context, dir, path string) {
	department, ok := r.Department(dir, path)
	if !ok {
		r.logger.Warn("file outside a department folder", zap.String("path", path))
		return
	}
	doc, err := r.ingest.IngestFile(ctx, r.loader, department, path)
	if err != nil {
		r.logger.Error("inbox ingestion failed", zap.String("path", path), zap.String("department", department), zap.Error(err))
		return
	}
	r.logger.Info("inbox file ingested", zap.String("path", path), zap.String("department", department), zap.String("id", doc.ID))
}

// Department resolves the department folder a path was dropped into,
// matched case-insensitively against the known departments.
func (r *InboxRunner) Department(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || parts[0] == ".." {
		return "", false
	}
	for _, d := range r.departments() {
		if strings.EqualFold(d, parts[0]) {
			return d, true
		}
	}
	return "", false
}
