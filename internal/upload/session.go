package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"uploadhub/internal/models"
)

// ErrSourceAborted is returned when the client stream ends before the file does,
// typically because the client disconnected.
var ErrSourceAborted = errors.New("upload source aborted")

// Broadcaster delivers a named event to the subscribers of one session.
type Broadcaster interface {
	BroadcastToSession(sessionID, event string, payload any)
}

// Recorder persists the outcome of each received file.
type Recorder interface {
	Record(ctx context.Context, upload *models.Upload) error
}

// Replicator copies a finished file somewhere else.
type Replicator interface {
	Replicate(ctx context.Context, localPath, name string) error
}

// Options configures one upload session.
type Options struct {
	SessionID   string
	Dir         string
	Window      time.Duration
	Partial     PartialPolicy
	Collision   CollisionPolicy
	Broadcaster Broadcaster
	Recorder    Recorder
	Replicator  Replicator
	Clock       func() time.Time
}

// Result describes one file written by a session.
type Result struct {
	Field     string
	Filename  string
	Path      string
	Bytes     int64
	Emissions int
}

// Session receives the files of one upload request and reports their progress
// to the subscribers registered under its session id.
type Session struct {
	opts Options
	log  *logrus.Entry
}

// NewSession builds a session. The destination directory must already exist.
func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Partial == "" {
		opts.Partial = PartialRemove
	}
	if opts.Collision == "" {
		opts.Collision = CollisionOverwrite
	}
	return &Session{
		opts: opts,
		log:  logrus.WithField("session", opts.SessionID),
	}
}

// ID returns the session id progress is broadcast to.
func (s *Session) ID() string {
	return s.opts.SessionID
}

// Handle is the pending outcome of Begin.
type Handle struct {
	done    chan struct{}
	results []Result
	err     error
}

// Done is closed once every file has been written to disk or the session failed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until Done and returns the written files.
func (h *Handle) Wait() ([]Result, error) {
	<-h.done
	return h.results, h.err
}

// Begin parses the request body in the background. The returned handle completes
// exactly once, after the last file has been flushed to disk.
func (s *Session) Begin(ctx context.Context, header http.Header, body io.Reader) (*Handle, error) {
	parser, err := NewMultipartParser(header, body)
	if err != nil {
		return nil, err
	}
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.results, h.err = s.Run(ctx, parser)
	}()
	return h, nil
}

// Receive is Begin followed by Wait.
func (s *Session) Receive(ctx context.Context, header http.Header, body io.Reader) ([]Result, error) {
	h, err := s.Begin(ctx, header, body)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// Run drains parser, writing each file on its own goroutine. It returns after every
// file goroutine has finished. The first failure cancels the remaining files.
func (s *Session) Run(ctx context.Context, parser Parser) ([]Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		results  []Result
		parseErr error
	)

	for gctx.Err() == nil {
		part, err := parser.NextFile()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErr = err
			break
		}

		pr, pw := io.Pipe()
		g.Go(func() error {
			res, err := s.OnFileArrival(gctx, part.Field, part.Filename, pr)
			if err != nil {
				pr.CloseWithError(err)
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})

		if _, err := io.Copy(pw, part.Body); err != nil {
			pw.CloseWithError(fmt.Errorf("%w: %w", ErrSourceAborted, err))
			// the file goroutine reports its own failure through the group
			parseErr = err
			break
		}
		pw.Close()
	}

	fileErr := g.Wait()
	switch {
	case fileErr != nil:
		return results, fileErr
	case parseErr != nil:
		return results, parseErr
	case ctx.Err() != nil:
		return results, ctx.Err()
	}
	s.log.WithField("files", len(results)).Info("all files received")
	return results, nil
}

// OnFileArrival writes src to the destination directory under filename, emitting
// throttled progress on the way. It returns once the destination file is closed.
func (s *Session) OnFileArrival(ctx context.Context, field, filename string, src io.Reader) (Result, error) {
	log := s.log.WithField("file", filename)
	res := Result{Field: field, Filename: filename}
	started := time.Now().UTC()

	if err := CheckFilename(filename); err != nil {
		log.WithError(err).Warn("rejected upload")
		return res, err
	}

	dst, path, err := createDestination(s.opts.Dir, filename, s.opts.Collision)
	if err != nil {
		log.WithError(err).Error("open destination failed")
		s.record(ctx, filename, "", 0, started, err)
		return res, err
	}
	res.Path = path

	ft := newFileTransfer(filename, path)
	counter := NewCountingWriter(dst, filename, func(_ string, total int64) {
		ft.BytesProcessed = total
		s.EmitProgress(ft, total)
	})

	_, copyErr := io.Copy(counter, contextReader{ctx: ctx, r: src})
	closeErr := dst.Close()

	var failure error
	switch {
	case counter.Err() != nil:
		failure = fmt.Errorf("write %s: %w", path, counter.Err())
	case copyErr != nil && errors.Is(copyErr, ErrSourceAborted):
		failure = copyErr
	case copyErr != nil:
		failure = fmt.Errorf("%w: %w", ErrSourceAborted, copyErr)
	case closeErr != nil:
		failure = fmt.Errorf("write %s: %w", path, closeErr)
	}
	if failure != nil {
		log.WithError(failure).Error("upload failed")
		s.abort(log, path)
		s.record(ctx, filename, path, counter.Total(), started, failure)
		return res, failure
	}

	if ft.Emissions == 0 {
		// nothing was written, still tell the client the file exists
		s.EmitProgress(ft, 0)
	}

	res.Bytes = counter.Total()
	res.Emissions = ft.Emissions
	log.WithFields(logrus.Fields{"bytes": res.Bytes, "emissions": res.Emissions}).Info("file written")
	s.record(ctx, filename, path, res.Bytes, started, nil)
	s.replicate(ctx, path, filename)
	return res, nil
}

// EmitProgress broadcasts the running total of ft when the throttle window allows it.
// It reports whether an event was sent.
func (s *Session) EmitProgress(ft *FileTransfer, total int64) bool {
	now := s.opts.Clock()
	if !CanEmit(now, ft.LastEmissionAt, s.opts.Window) {
		return false
	}
	if s.opts.Broadcaster != nil {
		s.opts.Broadcaster.BroadcastToSession(s.opts.SessionID, models.UploadEventName, models.ProgressEvent{
			ProcessedAlready: total,
			Filename:         ft.Filename,
		})
	}
	ft.LastEmissionAt = now
	ft.Emissions++
	s.log.WithFields(logrus.Fields{"file": ft.Filename, "processed": total}).Debug("progress emitted")
	return true
}

func (s *Session) abort(log *logrus.Entry, path string) {
	if s.opts.Partial != PartialRemove {
		log.WithField("path", path).Warn("upload aborted, partial file kept")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Error("remove partial file failed")
		return
	}
	log.WithField("path", path).Warn("upload aborted, partial file removed")
}

func (s *Session) record(ctx context.Context, filename, path string, size int64, started time.Time, failure error) {
	if s.opts.Recorder == nil {
		return
	}
	rec := &models.Upload{
		ID:         uuid.NewString(),
		SessionID:  s.opts.SessionID,
		FileName:   filename,
		StoredPath: path,
		Size:       size,
		Status:     models.UploadCompleted,
		CreatedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if failure != nil {
		rec.Status = models.UploadFailed
		rec.Error = failure.Error()
	}
	if err := s.opts.Recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.WithError(err).WithField("file", filename).Error("record upload failed")
	}
}

func (s *Session) replicate(ctx context.Context, path, name string) {
	if s.opts.Replicator == nil {
		return
	}
	rctx := context.WithoutCancel(ctx)
	go func() {
		if err := s.opts.Replicator.Replicate(rctx, path, name); err != nil {
			s.log.WithError(err).WithField("file", name).Error("replicate upload failed")
		}
	}()
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
