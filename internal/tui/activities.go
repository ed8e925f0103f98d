package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trainer/internal/service"
	"trainer/internal/store"
)

// ActivitiesModel is the activities list screen model
type ActivitiesModel struct {
	queryService *service.QueryService
	filter       store.ActivityFilter
	page         *service.ActivityPage
	pageNum      int
	cursor       int
	loading      bool
	err          error
}

// NewActivitiesModel creates a new activities model
func NewActivitiesModel(qs *service.QueryService, filter store.ActivityFilter) ActivitiesModel {
	return ActivitiesModel{
		queryService: qs,
		filter:       filter,
		pageNum:      1,
		loading:      true,
	}
}

// Init initializes the activities screen
func (m ActivitiesModel) Init() tea.Cmd {
	return m.loadPage
}

type activitiesLoadedMsg struct {
	page *service.ActivityPage
	err  error
}

type activityUpdatedMsg struct {
	activity *store.Activity
	err      error
}

func (m ActivitiesModel) loadPage() tea.Msg {
	page, err := m.queryService.GetActivitiesList(context.Background(), m.filter, m.pageNum)
	return activitiesLoadedMsg{page: page, err: err}
}

func (m ActivitiesModel) toggleExcluded(a store.Activity) tea.Cmd {
	return func() tea.Msg {
		updated, err := m.queryService.SetExcludedFromAnalysis(context.Background(), a.ID, !a.ExcludedFromAnalysis)
		return activityUpdatedMsg{activity: updated, err: err}
	}
}

// Update handles messages
func (m ActivitiesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case activitiesLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.page = msg.page
		if m.page != nil && m.cursor >= len(m.page.Activities) {
			m.cursor = 0
		}

	case activityUpdatedMsg:
		m.err = msg.err
		if msg.err == nil && m.page != nil {
			for i := range m.page.Activities {
				if m.page.Activities[i].ID == msg.activity.ID {
					m.page.Activities[i] = *msg.activity
				}
			}
		}

	case tea.KeyMsg:
		if m.page == nil {
			return m, nil
		}
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.page.Activities)-1 {
				m.cursor++
			}
		case "pgup", "p":
			if m.pageNum > 1 {
				m.pageNum--
				m.cursor = 0
				m.loading = true
				return m, m.loadPage
			}
		case "pgdown", "n":
			if m.pageNum < m.page.TotalPages {
				m.pageNum++
				m.cursor = 0
				m.loading = true
				return m, m.loadPage
			}
		case "r":
			m.loading = true
			return m, m.loadPage
		case "x":
			if m.cursor < len(m.page.Activities) {
				return m, m.toggleExcluded(m.page.Activities[m.cursor])
			}
		}
	}
	return m, nil
}

// View renders the activities list
func (m ActivitiesModel) View() string {
	if m.loading {
		return "\n  Loading activities..."
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("\n  Error: %v", m.err))
	}

	if m.page == nil || len(m.page.Activities) == 0 {
		return "\n  No activities found. Press 's' to sync."
	}

	var sections []string

	title := cardTitleStyle.Render(fmt.Sprintf("Activities (page %d of %d, %d total)", m.page.Page, m.page.TotalPages, m.page.Total))
	sections = append(sections, title)

	header := tableHeaderStyle.Render(fmt.Sprintf("   %-10s  %-8s  %-9s  %9s  %8s  %6s  %4s  %s",
		"Date", "Source", "Type", "Distance", "Time", "Pace", "HR", "Excl"))
	sections = append(sections, header)

	for i, a := range m.page.Activities {
		date := "-"
		if a.StartTime != nil {
			date = a.StartTime.Format("2006-01-02")
		}
		excluded := ""
		if a.ExcludedFromAnalysis {
			excluded = "x"
		}

		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		row := fmt.Sprintf("%s%-10s  %-8s  %-9s  %9s  %8s  %6s  %4s  %s",
			cursor,
			date,
			a.Provider,
			a.Type,
			formatDistance(a.DistanceM),
			formatDuration(a.DurationSec),
			formatPace(a.DurationSec, a.DistanceM),
			formatInt(a.AvgHeartRate),
			excluded,
		)

		if i == m.cursor {
			sections = append(sections, tableSelectedStyle.Render(row))
		} else {
			sections = append(sections, tableRowStyle.Render(row))
		}
	}

	help := statusStyle.Render("\n  j/k: navigate  n/p: page  x: toggle exclusion  r: refresh")
	sections = append(sections, help)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
