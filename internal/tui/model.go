package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"zipaes/internal/runner"

	tea "github.com/charmbracelet/bubbletea"
)

type Config struct {
	Workers     int
	Archive     string
	SampleEvery time.Duration
	StatsCh     <-chan runner.Stats
	Stop        func()
}

type statsMsg runner.Stats
type statsClosedMsg struct{}

func listenStats(ch <-chan runner.Stats) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return statsClosedMsg{}
		}
		return statsMsg(s)
	}
}

type model struct {
	cfg Config

	perSec     []float64
	lastCounts []uint64
	lastTime   time.Time
	bytesTotal uint64

	done   uint64
	failed uint64
	total  int

	finished bool

	start    time.Time
	idxWidth int // width for worker index padding, e.g. W01, W02
}

func NewModel(cfg Config) model {
	w := 1
	for n := cfg.Workers; n >= 10; n /= 10 {
		w++
	}
	return model{
		cfg:        cfg,
		perSec:     make([]float64, cfg.Workers),
		lastCounts: make([]uint64, cfg.Workers),
		start:      time.Now(),
		idxWidth:   w,
	}
}

func (m model) Init() tea.Cmd {
	return listenStats(m.cfg.StatsCh)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cfg.Stop != nil {
				m.cfg.Stop()
			}
			return m, tea.Quit
		}
	case statsMsg:
		m = m.applyStats(runner.Stats(msg))
		return m, listenStats(m.cfg.StatsCh)
	case statsClosedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) applyStats(s runner.Stats) model {
	m.done, m.failed, m.total = s.Done, s.Failed, s.Total
	var sum uint64
	for _, v := range s.PerWorker {
		sum += v
	}
	m.bytesTotal = sum

	if m.lastTime.IsZero() {
		m.lastTime = s.Timestamp
		copy(m.lastCounts, s.PerWorker)
		return m
	}
	dt := s.Timestamp.Sub(m.lastTime).Seconds()
	if dt <= 0 {
		dt = m.cfg.SampleEvery.Seconds()
		if dt <= 0 {
			dt = 1
		}
	}
	for i := 0; i < len(m.perSec) && i < len(s.PerWorker); i++ {
		m.perSec[i] = float64(s.PerWorker[i]-m.lastCounts[i]) / dt
		m.lastCounts[i] = s.PerWorker[i]
	}
	m.lastTime = s.Timestamp
	return m
}

func (m model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "WinZip-AES decrypt: %s (q to cancel)\n", m.cfg.Archive)
	fmt.Fprintf(&b, "Workers: %d | Refresh: %s | Elapsed: %s\n",
		len(m.perSec), m.cfg.SampleEvery, time.Since(m.start).Truncate(time.Second))

	b.WriteByte('\n')
	for i, v := range m.perSec {
		fmt.Fprintf(&b, "[W%0*d: %9s/s] ", m.idxWidth, i+1, humanizeBytes(v))
		if (i+1)%4 == 0 {
			b.WriteByte('\n')
		}
	}
	if len(m.perSec)%4 != 0 {
		b.WriteByte('\n')
	}

	var sum float64
	for _, v := range m.perSec {
		sum += v
	}

	finished := m.done + m.failed
	var percent float64
	if m.total > 0 {
		percent = float64(finished) / float64(m.total)
	}
	fmt.Fprintf(&b, "\nEntries: %s %5.1f%% | %d ok, %d failed, %d total\n",
		progressBar(percent, 40), percent*100, m.done, m.failed, m.total)
	fmt.Fprintf(&b, "Throughput: %s/s | Processed: %s\n", humanizeBytes(sum), humanizeBytes(float64(m.bytesTotal)))

	if m.finished {
		b.WriteString("\nFinished.\n")
	}
	return b.String()
}

func humanizeBytes(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0f B", n)
	}
	exp := int(math.Log(n) / math.Log(unit))
	if exp > 4 {
		exp = 4
	}
	return fmt.Sprintf("%.1f %ciB", n/math.Pow(unit, float64(exp)), "KMGT"[exp-1])
}

// progressBar renders a simple ASCII progress bar of given width for percent in [0,1].
func progressBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 1 {
		percent = 1
	}
	filled := int(math.Round(percent * float64(width)))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return "[" + bar + "]"
}
