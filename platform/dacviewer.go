package platform

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gammazero/deque"
	"github.com/gdamore/tcell/v2"
	"github.com/montanaflynn/stats"
	"github.com/rivo/tview"

	"lautenbacher.net/godac/config"
	"lautenbacher.net/godac/logging"
	"lautenbacher.net/godac/mcp48x1"
)

const (
	maxSampleHistory = 500
	sparkWidth       = 72
	refreshInterval  = 50 * time.Millisecond
	viewerTitle      = " GODAC Simulation "
)

var sparkChars = []rune("▁▂▃▄▅▆▇█")

// DACViewer is a TUI showing the simulated DAC output, a short history and
// statistics over the last samples.
type DACViewer struct {
	tuiApp      *tview.Application
	intro       *tview.TextView
	view        *tview.TextView
	logView     *tview.TextView
	layout      *tview.Flex
	history     *deque.Deque[float64]
	part        mcp48x1.Resolution
	mu          sync.Mutex
	ossignal    chan os.Signal
	logFlush    sync.Once
	onFirstDraw func()
}

type outputStats struct {
	min    float64
	max    float64
	mean   float64
	median float64
	stdDev float64
}

func NewDACViewer(dac config.DACConfig, ossignal chan os.Signal) *DACViewer {
	v := &DACViewer{
		tuiApp:   tview.NewApplication(),
		history:  new(deque.Deque[float64]),
		part:     mcp48x1.Resolution(dac.Resolution),
		ossignal: ossignal,
	}
	v.history.Grow(maxSampleHistory)
	v.setupUI()
	return v
}

// Run blocks until the TUI is stopped.
func (v *DACViewer) Run() {
	if err := v.tuiApp.SetRoot(v.layout, true).SetFocus(v.logView).Run(); err != nil {
		slog.Error("Error running DAC viewer TUI", "error", err)
		v.ossignal <- os.Interrupt
	}
}

// Stop ends the TUI. Log output is buffered again so nothing is written into
// the terminal while it is being restored.
func (v *DACViewer) Stop() {
	logging.BufferOutput()
	v.tuiApp.Stop()
}

// Update records s and schedules a redraw. It is safe for concurrent use.
func (v *DACViewer) Update(s Sample) {
	status, spark, statLine := v.record(s)
	v.tuiApp.QueueUpdateDraw(func() {
		v.view.SetText(status + "\n" + spark + "\n" + statLine)
	})
}

// record appends s to the history and renders the three display lines.
func (v *DACViewer) record(s Sample) (string, string, string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.history.Len() == maxSampleHistory {
		v.history.PopFront()
	}
	v.history.PushBack(s.Voltage)

	data := make([]float64, v.history.Len())
	for i := range v.history.Len() {
		data[i] = v.history.At(i)
	}
	st := calculateStats(data)

	state := "[green]active[-]"
	if !s.Command.Active {
		state = "[red]shutdown[-]"
	}
	// The gain travels with every command, so the scale follows reloads.
	fullScale := mcp48x1.VRef * float64(s.Command.Gain)
	status := fmt.Sprintf(" [yellow]Word[-] %#04x  [yellow]Code[-] %4d  [yellow]Gain[-] %s (%.3f V)  %s  [yellow]Output[-] %6.4f V",
		s.Word, s.Command.Code, s.Command.Gain, fullScale, state, s.Voltage)
	statLine := fmt.Sprintf(" [yellow][min|mean|max][-] [%6.4f|%6.4f|%6.4f]  [yellow]median[-] %6.4f  [yellow]stddev[-] %6.4f  (%d samples)",
		st.min, st.mean, st.max, st.median, st.stdDev, len(data))
	return status, " " + sparkline(data, fullScale), statLine
}

// sparkline renders the newest samples as block characters scaled to
// fullScale.
func sparkline(data []float64, fullScale float64) string {
	if len(data) > sparkWidth {
		data = data[len(data)-sparkWidth:]
	}
	var buf strings.Builder
	buf.WriteString("[blue]")
	for _, d := range data {
		idx := 0
		if fullScale > 0 {
			idx = int(d / fullScale * float64(len(sparkChars)))
		}
		idx = max(0, min(idx, len(sparkChars)-1))
		buf.WriteRune(sparkChars[idx])
	}
	buf.WriteString("[-]")
	return buf.String()
}

func (v *DACViewer) setupUI() {
	v.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	v.intro.SetText(fmt.Sprintf("Simulated %s, %d bit\n", v.part, uint8(v.part)) +
		"Hit [#ff0000]q[-] to exit, [#ff0000]r[-] to reload, [#ff0000]Up/Down[-] to scroll logs")
	v.intro.SetBorder(true).SetTitle(viewerTitle).SetTitleColor(tcell.ColorLightBlue)
	v.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	v.view = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	v.view.SetBorder(true).SetTitle(" Output ").SetTitleColor(tcell.ColorLightBlue)
	v.view.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	v.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			v.logView.ScrollToEnd()
			v.tuiApp.Draw()
		})
	v.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	v.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	v.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.intro, 4, 0, false).
		AddItem(v.view, 5, 0, false).
		AddItem(v.logView, 0, 1, true)

	v.tuiApp.SetAfterDrawFunc(func(screen tcell.Screen) {
		v.logFlush.Do(func() {
			logging.SetOutput(tview.ANSIWriter(v.logView))
			if v.onFirstDraw != nil {
				v.onFirstDraw()
			}
		})
	})

	v.tuiApp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			v.ossignal <- os.Interrupt
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				v.ossignal <- os.Interrupt
				return nil
			case 'r', 'R':
				v.ossignal <- syscall.SIGHUP
				return nil
			}
		case tcell.KeyUp:
			row, col := v.logView.GetScrollOffset()
			v.logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := v.logView.GetScrollOffset()
			v.logView.ScrollTo(row+1, col)
			return nil
		}
		return event
	})
}

func calculateStats(data []float64) outputStats {
	if len(data) == 0 {
		return outputStats{}
	}
	raw := stats.LoadRawData(data)
	var st outputStats
	// Errors only occur for empty input.
	st.min, _ = raw.Min()
	st.max, _ = raw.Max()
	st.mean, _ = raw.Mean()
	st.median, _ = raw.Median()
	st.stdDev, _ = raw.StandardDeviation()
	return st
}
