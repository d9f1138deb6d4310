package client

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"uploadhub/internal/models"
)

// ConsoleView renders the batch status as a progress bar and the listing as a table.
type ConsoleView struct {
	out   io.Writer
	max   int64
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	done  chan struct{}
	once  sync.Once
	files []models.FileStatus
}

// NewConsoleView sizes the bar for a batch of n files; each file contributes up to 100.
func NewConsoleView(out io.Writer, n int) *ConsoleView {
	if n < 1 {
		n = 1
	}
	return &ConsoleView{
		out:  out,
		max:  int64(n * 100),
		done: make(chan struct{}),
	}
}

func (v *ConsoleView) OpenSurface() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bar = progressbar.NewOptions64(v.max,
		progressbar.OptionSetDescription("Uploading..."),
		progressbar.OptionSetWriter(v.out),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

func (v *ConsoleView) UpdateStatus(percent int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar == nil {
		return
	}
	value := int64(percent)
	if value > v.max {
		value = v.max
	}
	_ = v.bar.Set64(value)
}

// CloseSurface finishes the bar. Done is closed afterwards.
func (v *ConsoleView) CloseSurface() {
	v.mu.Lock()
	if v.bar != nil {
		_ = v.bar.Finish()
		fmt.Fprintln(v.out)
	}
	v.mu.Unlock()
	v.once.Do(func() { close(v.done) })
}

// Done is closed once the surface has been dismissed.
func (v *ConsoleView) Done() <-chan struct{} {
	return v.done
}

// UpdateCurrentFiles keeps the latest listing; PrintFiles writes it.
func (v *ConsoleView) UpdateCurrentFiles(files []models.FileStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files = files
}

// PrintFiles writes the last listing received.
func (v *ConsoleView) PrintFiles() error {
	v.mu.Lock()
	files := v.files
	v.mu.Unlock()
	return WriteFiles(v.out, files)
}

// WriteFiles prints files as an aligned table.
func WriteFiles(out io.Writer, files []models.FileStatus) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", header("FILE"), header("SIZE"), header("OWNER"), header("LAST MODIFIED"))
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.File, f.Size, f.Owner, f.LastModified)
	}
	return tw.Flush()
}
