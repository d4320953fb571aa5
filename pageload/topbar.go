package pageload

import (
	"io"
	"sort"
	"sync"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// TopBarConfig mirrors the options of the browser top bar.
type TopBarConfig struct {
	// BarColors maps gradient stops (0..1) to colors.
	BarColors    map[float64]string
	ShadowColor  string
	BarThickness int
}

// DefaultTopBarConfig ...
func DefaultTopBarConfig() TopBarConfig {
	return TopBarConfig{
		BarColors:    map[float64]string{0: "#29d"},
		ShadowColor:  "rgba(0, 0, 0, .3)",
		BarThickness: 3,
	}
}

const terminalBarTotal = 100

// TopBar is an Indicator. Without an output it only tracks visibility;
// with one it renders a bar while visible.
type TopBar struct {
	config TopBarConfig

	mu       sync.Mutex
	visible  bool
	shown    int
	progress *mpb.Progress
	bar      *mpb.Bar
}

// NewTopBar returns a headless top bar.
func NewTopBar(config TopBarConfig) *TopBar {
	return &TopBar{config: config}
}

// NewTerminalTopBar returns a top bar drawn to w.
func NewTerminalTopBar(config TopBarConfig, w io.Writer) *TopBar {
	return &TopBar{
		config:   config,
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(60)),
	}
}

// Show makes the bar visible. Showing a visible bar is a no-op.
func (b *TopBar) Show() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.visible {
		return
	}
	b.visible = true
	b.shown++

	if b.progress != nil {
		b.bar = b.progress.AddBar(terminalBarTotal,
			mpb.PrependDecorators(decor.Name("loading ")),
			mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
			mpb.BarRemoveOnComplete(),
		)
		b.bar.SetCurrent(terminalBarTotal / 10)
	}
}

// Hide finishes and removes the bar. Hiding a hidden bar is a no-op.
func (b *TopBar) Hide() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.visible {
		return
	}
	b.visible = false

	if b.bar != nil {
		b.bar.SetCurrent(terminalBarTotal)
		b.bar = nil
	}
}

// Visible ...
func (b *TopBar) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// ShowCount returns how many times the bar went from hidden to visible.
func (b *TopBar) ShowCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shown
}

// Color returns the color of the last gradient stop at or before at.
func (b *TopBar) Color(at float64) string {
	stops := make([]float64, 0, len(b.config.BarColors))
	for stop := range b.config.BarColors {
		stops = append(stops, stop)
	}
	sort.Float64s(stops)

	color := ""
	for _, stop := range stops {
		if stop > at {
			break
		}
		color = b.config.BarColors[stop]
	}
	return color
}

// Close hides the bar and waits for the renderer to flush.
func (b *TopBar) Close() {
	b.Hide()
	if b.progress != nil {
		b.progress.Wait()
	}
}
