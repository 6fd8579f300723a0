package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/pipeline"
)

const refreshInterval = 700 * time.Millisecond

// Line renders run progress on a single terminal line. When live is false it
// prints one line per finished tile instead, which suits logs and pipes.
type Line struct {
	out  io.Writer
	live bool
	now  func() time.Time

	mu        sync.Mutex
	total     int
	done      int
	ok        int
	failed    int
	resumed   int
	batch     string
	tileID    string
	phase     string
	tileStart time.Time

	stop    chan struct{}
	stopped sync.Once
}

func NewLine(out io.Writer, live bool) *Line {
	return &Line{
		out:   out,
		live:  live,
		now:   time.Now,
		phase: "starting",
		stop:  make(chan struct{}),
	}
}

func (p *Line) Start() {
	if !p.live {
		return
	}
	go func() {
		t := time.NewTicker(refreshInterval)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				fmt.Fprintf(p.out, "\r\033[2K%s", p.render())
			}
		}
	}()
}

func (p *Line) Stop(final string) {
	p.stopped.Do(func() {
		close(p.stop)
		if p.live {
			fmt.Fprintf(p.out, "\r\033[2K%s\n", final)
			return
		}
		if final != "" {
			fmt.Fprintln(p.out, final)
		}
	})
}

// Observe is a pipeline.Observer.
func (p *Line) Observe(ev pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case pipeline.EventRunStarted:
		p.total = ev.Total
	case pipeline.EventBatchStarted:
		p.batch = ev.Batch
		if !p.live && ev.Batch != "" {
			fmt.Fprintf(p.out, "batch %s\n", ev.Batch)
		}
	case pipeline.EventTileStage:
		if ev.TileID != p.tileID {
			p.tileID = ev.TileID
			p.tileStart = p.now()
		}
		p.phase = string(ev.Timing.To)
	case pipeline.EventTileFinished:
		p.done = ev.Index
		p.tileID = ev.TileID
		if ev.Result == nil {
			return
		}
		switch {
		case ev.Result.Resumed:
			p.ok++
			p.resumed++
		case ev.Result.Success:
			p.ok++
		default:
			p.failed++
		}
		if !p.live {
			fmt.Fprintln(p.out, finishedLine(ev.Index, ev.Total, *ev.Result))
		}
	}
}

func (p *Line) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := []string{fmt.Sprintf("[%d/%d]", p.done, p.total)}
	if p.batch != "" {
		parts = append(parts, p.batch)
	}
	if p.tileID != "" {
		parts = append(parts, "tile "+p.tileID, p.phase)
		if !p.tileStart.IsZero() {
			parts = append(parts, p.now().Sub(p.tileStart).Round(time.Second).String())
		}
	}
	parts = append(parts, fmt.Sprintf("ok %d", p.ok))
	if p.failed > 0 {
		parts = append(parts, fmt.Sprintf("failed %d", p.failed))
	}
	if p.resumed > 0 {
		parts = append(parts, fmt.Sprintf("resumed %d", p.resumed))
	}
	return strings.Join(parts, "  ")
}

func finishedLine(index, total int, r model.TileResult) string {
	prefix := fmt.Sprintf("[%d/%d] tile %s", index, total, r.TileID)
	switch {
	case r.Resumed:
		return prefix + "  resumed  " + r.DerivedFileName
	case r.Success:
		line := fmt.Sprintf("%s  ok  %s  %s", prefix, r.DerivedFileName, r.Elapsed.Round(time.Millisecond))
		if len(r.Warnings) > 0 {
			line += fmt.Sprintf("  warnings %d", len(r.Warnings))
		}
		return line
	default:
		return fmt.Sprintf("%s  failed  %s at %s", prefix, r.FailureReason, r.Stage)
	}
}
