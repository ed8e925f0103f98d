package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"trainer/internal/service"
)

// SyncFunc runs one sync and reports per-page progress on the channel.
// The channel must be closed when the sync returns.
type SyncFunc func(ctx context.Context, progress chan<- service.Progress) service.SyncResult

// SyncModel is the sync screen model
type SyncModel struct {
	run      SyncFunc
	provider string
	maxPages int

	syncing  bool
	progress service.Progress
	updates  chan service.Progress
	result   *service.SyncResult
	now      func() time.Time
}

// NewSyncModel creates a new sync model
func NewSyncModel(run SyncFunc, provider string, maxPages int) SyncModel {
	if maxPages <= 0 || maxPages > service.MaxPagesCeiling {
		maxPages = service.MaxPagesCeiling
	}
	return SyncModel{
		run:      run,
		provider: provider,
		maxPages: maxPages,
		now:      time.Now,
	}
}

// Init initializes the sync screen
func (m SyncModel) Init() tea.Cmd {
	return nil
}

// SyncDoneMsg is sent when sync finishes
type SyncDoneMsg struct {
	Result service.SyncResult
}

type syncProgressMsg service.Progress

// Update handles messages
func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case syncProgressMsg:
		m.progress = service.Progress(msg)
		return m, waitForProgress(m.updates)

	case SyncDoneMsg:
		m.syncing = false
		m.result = &msg.Result
		return m, func() tea.Msg { return SyncCompleteMsg{} }

	case tea.KeyMsg:
		if !m.syncing {
			switch msg.String() {
			case "enter", "s":
				return m.start()
			}
		}
	}
	return m, nil
}

func (m SyncModel) start() (SyncModel, tea.Cmd) {
	updates := make(chan service.Progress, 8)
	m.syncing = true
	m.result = nil
	m.progress = service.Progress{}
	m.updates = updates

	run := m.run
	return m, tea.Batch(
		func() tea.Msg {
			return SyncDoneMsg{Result: run(context.Background(), updates)}
		},
		waitForProgress(updates),
	)
}

// waitForProgress delivers the next progress update. A closed channel ends the loop.
func waitForProgress(updates <-chan service.Progress) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return nil
		}
		return syncProgressMsg(p)
	}
}

// View renders the sync screen
func (m SyncModel) View() string {
	var sections []string

	title := cardTitleStyle.Render(fmt.Sprintf("Sync %s", m.provider))
	sections = append(sections, title)

	switch {
	case m.syncing:
		sections = append(sections, m.renderProgress())
	case m.result != nil:
		sections = append(sections, m.renderResult())
	default:
		sections = append(sections, m.renderStartPrompt())
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m SyncModel) renderStartPrompt() string {
	var lines []string

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("  This imports your %s activity history:", m.provider))
	lines = append(lines, "")
	lines = append(lines, "  1. Check the stored authorization")
	lines = append(lines, fmt.Sprintf("  2. Fetch up to %d pages of activities", m.maxPages))
	lines = append(lines, "  3. Save new and updated activities")
	lines = append(lines, "")
	lines = append(lines, statusStyle.Render("  Press 's' or Enter to start sync"))

	return strings.Join(lines, "\n")
}

func (m SyncModel) renderProgress() string {
	p := m.progress
	var lines []string

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("  Syncing with %s...", m.provider))
	lines = append(lines, "")
	lines = append(lines, "  "+RenderProgressBar(float64(p.Pages)/float64(m.maxPages), 30)+
		fmt.Sprintf(" %d/%d pages", p.Pages, m.maxPages))
	lines = append(lines, "")
	lines = append(lines, "  "+RenderMetric("Imported", humanize.Comma(int64(p.Imported))))
	lines = append(lines, "  "+RenderMetric("Skipped", humanize.Comma(int64(p.Skipped))))
	lines = append(lines, "  "+RenderMetric("Failed", humanize.Comma(int64(p.Failed))))

	return strings.Join(lines, "\n")
}

func (m SyncModel) renderResult() string {
	r := m.result
	var lines []string

	lines = append(lines, "")
	switch {
	case r.Err == nil:
		lines = append(lines, successStyle.Render("  Sync complete!"))
	case !r.Err.Fatal():
		lines = append(lines, warningStyle.Render("  "+r.Err.Message()))
		if r.RetryAfter > 0 {
			now := m.now()
			resume := humanize.RelTime(now.Add(r.RetryAfter), now, "ago", "from now")
			lines = append(lines, warningStyle.Render("  Resume "+resume))
		}
	default:
		lines = append(lines, errorStyle.Render("  Error: "+r.Err.Message()))
		lines = append(lines, errorStyle.Render("  Next step: "+r.Err.Remedy()))
	}

	lines = append(lines, "")
	if r.Imported > 0 {
		lines = append(lines, successStyle.Render(fmt.Sprintf("  %s activities synced", humanize.Comma(int64(r.Imported)))))
	} else {
		lines = append(lines, statusStyle.Render("  No new activities"))
	}
	if r.Skipped > 0 {
		lines = append(lines, fmt.Sprintf("  %s records skipped", humanize.Comma(int64(r.Skipped))))
	}
	if r.Failed > 0 {
		lines = append(lines, warningStyle.Render(fmt.Sprintf("  %d records could not be stored", r.Failed)))
	}
	lines = append(lines, "  "+english.Plural(r.PagesFetched, "page", "")+" fetched")
	if r.HasMore {
		lines = append(lines, statusStyle.Render(fmt.Sprintf("  More history remains, the next sync continues at page %d", r.NextPage)))
	}

	lines = append(lines, "")
	lines = append(lines, statusStyle.Render("  Press 's' to sync again, '2' for activities"))
	return strings.Join(lines, "\n")
}
