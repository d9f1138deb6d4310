package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"uploadhub/internal/models"
)

// NearCompleteThreshold is the per-file percent that triggers an early listing refresh.
const NearCompleteThreshold = 98

// DefaultCloseDelay is how long the upload surface stays open after a batch completes.
const DefaultCloseDelay = time.Second

// File is one local file queued for upload.
type File struct {
	Name string
	Size int64
	Path string
}

// FileState tracks one file of the current batch.
type FileState int

const (
	StatePending FileState = iota
	StateInProgress
	StateNearComplete
	StateSettled
)

func (s FileState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in progress"
	case StateNearComplete:
		return "near complete"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("FileState(%d)", int(s))
	}
}

// View renders batch progress and the server listing.
type View interface {
	OpenSurface()
	CloseSurface()
	UpdateStatus(percent int)
	UpdateCurrentFiles(files []models.FileStatus)
}

// Connection talks to the upload server.
type Connection interface {
	Subscribe(ctx context.Context, onProgress func(models.ProgressEvent)) error
	UploadFile(ctx context.Context, file File) error
	CurrentFiles(ctx context.Context) ([]models.FileStatus, error)
}

type trackedFile struct {
	file    File
	percent int
	state   FileState
}

// Aggregator turns progress events of a batch of concurrent uploads into per-file
// percentages and an overall status. The overall status is the sum of the per-file
// percents, so a batch of several files reports values above 100 while uploading.
type Aggregator struct {
	view       View
	conn       Connection
	closeDelay time.Duration
	afterFunc  func(time.Duration, func())

	mu     sync.Mutex
	files  map[string]*trackedFile
	status int
	log    *logrus.Entry
}

func NewAggregator(view View, conn Connection, closeDelay time.Duration) *Aggregator {
	if closeDelay < 0 {
		closeDelay = DefaultCloseDelay
	}
	return &Aggregator{
		view:       view,
		conn:       conn,
		closeDelay: closeDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		files: make(map[string]*trackedFile),
		log:   logrus.WithField("component", "client"),
	}
}

// Initialize subscribes to progress, resets the status and loads the listing.
func (a *Aggregator) Initialize(ctx context.Context) error {
	if err := a.conn.Subscribe(ctx, func(ev models.ProgressEvent) {
		if err := a.OnProgress(ctx, ev); err != nil {
			a.log.WithError(err).Warn("refresh after progress failed")
		}
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.view.UpdateStatus(0)
	return a.refresh(ctx)
}

// OnProgress applies one progress event. Applying the same event twice has no
// further effect. Crossing NearCompleteThreshold refreshes the listing. Events
// that arrive after the batch settled are ignored.
func (a *Aggregator) OnProgress(ctx context.Context, ev models.ProgressEvent) error {
	a.mu.Lock()
	tf, ok := a.files[ev.Filename]
	if !ok {
		a.mu.Unlock()
		a.log.WithField("file", ev.Filename).Debug("progress for a file outside the batch")
		return nil
	}
	if tf.state == StateSettled {
		// the batch finished; its status stays at 100
		a.mu.Unlock()
		return nil
	}
	tf.percent = percentOf(ev.ProcessedAlready, tf.file.Size)
	refresh := false
	switch tf.state {
	case StatePending, StateInProgress:
		tf.state = StateInProgress
		if tf.percent >= NearCompleteThreshold {
			tf.state = StateNearComplete
			refresh = true
		}
	case StateNearComplete:
		// listing already refreshed for this file
	}
	a.status = a.sumLocked()
	a.view.UpdateStatus(a.status)
	a.mu.Unlock()

	if !refresh {
		return nil
	}
	return a.refresh(ctx)
}

// OnFileChange starts a new batch: every file is uploaded concurrently and the call
// returns once all of them finished and the listing was refreshed.
func (a *Aggregator) OnFileChange(ctx context.Context, files []File) error {
	a.mu.Lock()
	a.files = make(map[string]*trackedFile, len(files))
	for _, f := range files {
		a.files[f.Name] = &trackedFile{file: f, state: StatePending}
	}
	a.status = 0
	a.view.OpenSurface()
	a.view.UpdateStatus(0)
	a.mu.Unlock()

	var g errgroup.Group
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := a.conn.UploadFile(ctx, f); err != nil {
				return fmt.Errorf("upload %s: %w", f.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.mu.Lock()
	for _, tf := range a.files {
		tf.state = StateSettled
	}
	a.status = 100
	a.view.UpdateStatus(100)
	a.mu.Unlock()

	a.afterFunc(a.closeDelay, a.view.CloseSurface)
	return a.refresh(ctx)
}

// Status is the aggregate percent last reported to the view.
func (a *Aggregator) Status() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// State reports the state of name in the current batch.
func (a *Aggregator) State(name string) (FileState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tf, ok := a.files[name]
	if !ok {
		return StatePending, false
	}
	return tf.state, true
}

// Percent reports the last computed percent of name.
func (a *Aggregator) Percent(name string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tf, ok := a.files[name]
	if !ok {
		return 0, false
	}
	return tf.percent, true
}

func (a *Aggregator) refresh(ctx context.Context) error {
	files, err := a.conn.CurrentFiles(ctx)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	a.view.UpdateCurrentFiles(files)
	return nil
}

func (a *Aggregator) sumLocked() int {
	total := 0
	for _, tf := range a.files {
		total += tf.percent
	}
	return total
}

// percentOf is ceil(processed / size * 100). An empty file is complete.
func percentOf(processed, size int64) int {
	if size <= 0 {
		return 100
	}
	return int((processed*100 + size - 1) / size)
}
