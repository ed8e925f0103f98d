package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trainer/internal/service"
	"trainer/internal/store"
)

// Screen identifiers
type Screen int

const (
	ScreenSync Screen = iota
	ScreenActivities
)

// App is the root Bubble Tea model
type App struct {
	screen Screen

	syncScreen SyncModel
	activities ActivitiesModel

	queryService *service.QueryService
	filter       store.ActivityFilter
	autoStart    bool

	// Window dimensions
	width  int
	height int
}

// AppOptions configures the interactive app
type AppOptions struct {
	Provider  string
	MaxPages  int
	AutoStart bool // start syncing as soon as the program runs
}

// NewApp creates a new App with all dependencies
func NewApp(run SyncFunc, queryService *service.QueryService, opts AppOptions) *App {
	filter := store.ActivityFilter{Provider: opts.Provider}
	return &App{
		screen:       ScreenSync,
		syncScreen:   NewSyncModel(run, opts.Provider, opts.MaxPages),
		activities:   NewActivitiesModel(queryService, filter),
		queryService: queryService,
		filter:       filter,
		autoStart:    opts.AutoStart,
	}
}

// Init initializes the app
func (a *App) Init() tea.Cmd {
	if a.autoStart {
		var cmd tea.Cmd
		a.syncScreen, cmd = a.syncScreen.start()
		return cmd
	}
	return a.syncScreen.Init()
}

// Update handles messages
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Global keybindings (unless a sync is running)
		if !a.syncScreen.syncing {
			switch msg.String() {
			case "q", "ctrl+c":
				return a, tea.Quit
			case "1":
				a.screen = ScreenSync
				return a, nil
			case "2":
				a.screen = ScreenActivities
				return a, a.activities.Init()
			case "s":
				if a.screen != ScreenSync {
					a.screen = ScreenSync
					return a, a.syncScreen.Init()
				}
				// Let 's' fall through to sync screen when already there
			}
		} else if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case SyncCompleteMsg:
		// reload so the list reflects the import
		a.activities = NewActivitiesModel(a.queryService, a.filter)
		return a, nil
	}

	// progress and completion always go to the sync screen
	switch msg.(type) {
	case syncProgressMsg, SyncDoneMsg:
		m, cmd := a.syncScreen.Update(msg)
		a.syncScreen = m.(SyncModel)
		return a, cmd
	}

	var cmd tea.Cmd
	switch a.screen {
	case ScreenSync:
		var m tea.Model
		m, cmd = a.syncScreen.Update(msg)
		a.syncScreen = m.(SyncModel)
	case ScreenActivities:
		var m tea.Model
		m, cmd = a.activities.Update(msg)
		a.activities = m.(ActivitiesModel)
	}

	return a, cmd
}

// View renders the app
func (a *App) View() string {
	header := a.renderHeader()
	nav := a.renderNav()

	var content string
	switch a.screen {
	case ScreenSync:
		content = a.syncScreen.View()
	case ScreenActivities:
		content = a.activities.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, nav, content)
}

func (a *App) renderHeader() string {
	return headerStyle.Render("Trainer Activity Sync")
}

func (a *App) renderNav() string {
	items := []struct {
		key    string
		label  string
		screen Screen
	}{
		{"1", "Sync", ScreenSync},
		{"2", "Activities", ScreenActivities},
	}

	var nav string
	for i, item := range items {
		if i > 0 {
			nav += "  "
		}

		label := "[" + item.key + "] " + item.label
		if a.screen == item.screen {
			nav += navActiveStyle.Render(label)
		} else {
			nav += navInactiveStyle.Render(label)
		}
	}

	nav += "  " + navInactiveStyle.Render("[q] Quit")

	return navStyle.Render(nav)
}

// SyncCompleteMsg is sent when sync finishes
type SyncCompleteMsg struct{}
