// Package dashboard renders a terminal dashboard of the running bot with
// bubbletea: balance, open positions, tracked wallets and an activity feed.
package dashboard

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("dashboard")

type updateMsg struct {
	snapshot *Snapshot
}

type tickMsg time.Time

type model struct {
	snapshot *Snapshot
	updateCh <-chan *Snapshot
	width    int
	height   int
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	pausedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func newModel(updateCh <-chan *Snapshot) model {
	return model{snapshot: &Snapshot{}, updateCh: updateCh}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.tick())
}

func (m model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.updateCh
		if !ok {
			return tea.Quit()
		}
		return updateMsg{snapshot: snap}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Bubbletea swallows Ctrl+C; re-raise SIGINT so the main
			// program runs its normal shutdown chain.
			_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case updateMsg:
		m.snapshot = msg.snapshot
		return m, m.waitForUpdate()
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m model) View() string {
	snap := m.snapshot
	if snap == nil {
		return "waiting for data..."
	}

	availableWidth := m.width - 4
	if availableWidth < 70 {
		availableWidth = 70
	}
	leftWidth := availableWidth/2 - 1
	rightWidth := availableWidth - leftWidth - 2

	header := m.renderHeader(snap)
	left := paneStyle.Width(leftWidth).Render(m.renderPositions(snap))
	right := paneStyle.Width(rightWidth).Render(m.renderWallets(snap))
	feed := paneStyle.Width(availableWidth).Render(m.renderActivity(snap))

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, feed)
}

func (m model) renderHeader(snap *Snapshot) string {
	state := "LIVE"
	if snap.DryRun {
		state = "DRY RUN"
	}
	if snap.Paused {
		state = pausedStyle.Render("PAUSED")
	}
	pnl := snap.RealizedPnL.StringFixed(4)
	styledPnl := gainStyle.Render("+" + pnl)
	if snap.RealizedPnL.IsNegative() {
		styledPnl = lossStyle.Render(pnl)
	}
	return headerStyle.Render(fmt.Sprintf(
		"Copy Trader | %s | up %s | balance %s SOL | pnl %s SOL (%dW/%dL)",
		state,
		snap.Uptime.Round(time.Second),
		snap.BalanceSOL.StringFixed(4),
		styledPnl,
		snap.Wins, snap.Losses,
	))
}

func (m model) renderPositions(snap *Snapshot) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Positions (%d)", len(snap.Positions))))
	sb.WriteString("\n")
	if len(snap.Positions) == 0 {
		sb.WriteString(dimStyle.Render("none"))
		return sb.String()
	}
	for _, p := range snap.Positions {
		gain := p.GainPct.Round(2).String() + "%"
		if p.GainPct.IsNegative() {
			gain = lossStyle.Render(gain)
		} else {
			gain = gainStyle.Render("+" + gain)
		}
		fmt.Fprintf(&sb, "%s  %s  peak %s%%\n", shorten(p.Mint), gain, p.PeakPct.Round(1))
		fmt.Fprintf(&sb, "  %s SOL, held %s, src %s\n",
			p.InvestedSOL.StringFixed(4),
			p.HoldTime.Round(time.Second),
			dimStyle.Render(shorten(p.Source)))
	}
	return sb.String()
}

func (m model) renderWallets(snap *Snapshot) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Tracked wallets (%d)", len(snap.Wallets))))
	sb.WriteString("\n")
	if len(snap.Wallets) == 0 {
		sb.WriteString(dimStyle.Render("none"))
		return sb.String()
	}
	for _, w := range snap.Wallets {
		last := dimStyle.Render("quiet")
		if !w.LastActivity.IsZero() {
			last = time.Since(w.LastActivity).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(&sb, "%s  %db/%ds  %s\n", shorten(w.Wallet), w.Buys, w.Sells, last)
	}
	return sb.String()
}

func (m model) renderActivity(snap *Snapshot) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Activity"))
	sb.WriteString("\n")
	if len(snap.Activity) == 0 {
		sb.WriteString(dimStyle.Render("waiting for trades..."))
		return sb.String()
	}
	// Newest last, capped to the most recent lines.
	lines := snap.Activity
	if len(lines) > 8 {
		lines = lines[len(lines)-8:]
	}
	for _, l := range lines {
		fmt.Fprintf(&sb, "%s  %s\n", dimStyle.Render(l.At.Format("15:04:05")), l.Text)
	}
	return sb.String()
}

func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
