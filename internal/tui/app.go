// Package tui is the terminal front end of a console session.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/savid/iptv-console/internal/engine"
	"github.com/savid/iptv-console/internal/guide"
	"github.com/savid/iptv-console/internal/playback"
	"github.com/savid/iptv-console/internal/state"
)

const helpText = "↑/↓ move • enter fold • p play/pause • x stop • r record • / search • s sort • o order • +/- days • t protocol • R refresh • q quit"

// Session is what the front end drives.
type Session interface {
	View() engine.View
	Settings() state.ViewState
	Dispatch(ctx context.Context, ev engine.Event) (engine.Outcome, error)
}

type outcomeMsg struct {
	outcome engine.Outcome
	err     error
}

type viewMsg struct {
	view engine.View
}

// App is the bubbletea model.
type App struct {
	ctx     context.Context
	session Session

	view    engine.View
	rows    []guide.Node
	cursor  int
	search  textinput.Model
	typing  bool
	status  string
	statusS lipgloss.Style
	busy    bool
	width   int
	height  int
}

// NewApp creates the front end for session.
func NewApp(ctx context.Context, session Session) *App {
	si := textinput.New()
	si.Placeholder = "Search programs..."
	si.Prompt = "/ "

	return &App{
		ctx:     ctx,
		session: session,
		search:  si,
		statusS: mutedStyle,
	}
}

// Init loads the first view.
func (a *App) Init() tea.Cmd {
	return a.loadView
}

func (a *App) loadView() tea.Msg {
	return viewMsg{view: a.session.View()}
}

func (a *App) dispatch(ev engine.Event) tea.Cmd {
	a.busy = true

	return func() tea.Msg {
		outcome, err := a.session.Dispatch(a.ctx, ev)

		return outcomeMsg{outcome: outcome, err: err}
	}
}

// Update handles messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

		return a, nil
	case viewMsg:
		a.setView(msg.view)

		return a, nil
	case outcomeMsg:
		a.busy = false
		a.showOutcome(msg.outcome, msg.err)

		return a, a.loadView
	case tea.KeyMsg:
		if a.typing {
			return a.updateSearch(msg)
		}

		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		a.typing = false
		a.search.Blur()

		return a, a.dispatch(engine.SearchEvent{Query: a.search.Value()})
	case tea.KeyEsc:
		a.typing = false
		a.search.Blur()
		a.search.SetValue("")

		return a, a.dispatch(engine.SearchEvent{Query: ""})
	}

	var cmd tea.Cmd
	a.search, cmd = a.search.Update(msg)

	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.rows)-1 {
			a.cursor++
		}
	case "enter", " ":
		return a, a.toggleFold()
	case "p":
		if n, ok := a.current(); ok && n.ChannelID != "" {
			return a, a.dispatch(engine.TogglePlaybackEvent{ControlID: n.ChannelID})
		}
	case "x":
		return a, a.dispatch(engine.ClosePlaybackEvent{})
	case "r":
		if n, ok := a.current(); ok && n.Kind == guide.KindProgram {
			return a, a.dispatch(engine.RecordProgramEvent{ProgramID: n.TargetID})
		}
	case "/":
		a.typing = true
		a.search.SetValue(a.view.Query)

		return a, a.search.Focus()
	case "R":
		return a, a.dispatch(engine.RefreshEvent{})
	case "s":
		v := a.session.Settings()
		criteria := guide.SortByName
		if v.SortCriteria == guide.SortByName {
			criteria = guide.SortByNumber
		}

		return a, a.dispatch(engine.SortEvent{Criteria: criteria, Order: v.SortOrder})
	case "o":
		v := a.session.Settings()
		order := guide.Descending
		if v.SortOrder == guide.Descending {
			order = guide.Ascending
		}

		return a, a.dispatch(engine.SortEvent{Criteria: v.SortCriteria, Order: order})
	case "+", "-":
		v := a.session.Settings()
		if msg.String() == "+" && v.GuideWindowDays < state.MaxWindowDays {
			v.GuideWindowDays++
		} else if msg.String() == "-" && v.GuideWindowDays > state.MinWindowDays {
			v.GuideWindowDays--
		} else {
			return a, nil
		}

		return a, a.dispatch(engine.ApplySettingsEvent{Settings: v})
	case "t":
		v := a.session.Settings()
		if v.Protocol == guide.ProtocolRTMP {
			v.Protocol = guide.ProtocolHLS
		} else {
			v.Protocol = guide.ProtocolRTMP
		}

		return a, a.dispatch(engine.ApplySettingsEvent{Settings: v})
	}

	return a, nil
}

func (a *App) toggleFold() tea.Cmd {
	n, ok := a.current()
	if !ok {
		return nil
	}

	switch n.Kind {
	case guide.KindChannel:
		return a.dispatch(engine.ToggleChannelEvent{ChannelID: n.ChannelID})
	case guide.KindDate:
		return a.dispatch(engine.ToggleDateEvent{DateID: n.TargetID})
	default:
		return nil
	}
}

func (a *App) current() (guide.Node, bool) {
	if a.cursor < 0 || a.cursor >= len(a.rows) {
		return guide.Node{}, false
	}

	return a.rows[a.cursor], true
}

func (a *App) setView(v engine.View) {
	var selected string
	if n, ok := a.current(); ok {
		selected = n.ID
	}

	a.view = v
	a.rows = a.rows[:0]

	for _, n := range v.Nodes {
		if !n.Visible {
			continue
		}

		switch n.Kind {
		case guide.KindChannel, guide.KindDate, guide.KindProgram, guide.KindNoResults:
			a.rows = append(a.rows, n)
		}
	}

	a.cursor = 0

	for i, n := range a.rows {
		if n.ID == selected {
			a.cursor = i

			break
		}
	}
}

func (a *App) showOutcome(o engine.Outcome, err error) {
	if err != nil {
		a.status = err.Error()
		a.statusS = errorStyle

		return
	}

	switch o.Kind {
	case engine.OutcomeAlert, engine.OutcomePlaybackError:
		a.status = o.Alert.Message
		if o.Alert.Reason != "" {
			a.status += ": " + o.Alert.Reason
		}

		switch o.Alert.Level {
		case engine.AlertSuccess:
			a.statusS = successStyle
		case engine.AlertInfo:
			a.statusS = infoStyle
		default:
			a.statusS = errorStyle
		}
	case engine.OutcomeReload:
		a.status = "Console session expired, guide reloaded"
		a.statusS = infoStyle
	case engine.OutcomeFullPage:
		a.status = "Console returned a full page instead of the guide"
		a.statusS = errorStyle
	default:
		a.status = o.Caption
		a.statusS = mutedStyle
	}
}

// View renders the screen.
func (a *App) View() string {
	var b strings.Builder

	s := a.view.Settings
	b.WriteString(titleStyle.Render("IPTV Guide"))
	b.WriteString("\n")
	b.WriteString(settingsStyle.Render(fmt.Sprintf("sort: %s %s • days: %d • protocol: %s",
		s.SortCriteria, s.SortOrder, s.GuideWindowDays, s.Protocol)))
	b.WriteString("\n")

	if !a.view.HasGuide {
		b.WriteString(mutedStyle.Render("No guide loaded"))
		b.WriteString("\n")
	}

	start, end := a.window()
	for i := start; i < end; i++ {
		line := a.renderRow(a.rows[i])
		if i == a.cursor {
			line = selectedStyle.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if a.typing {
		b.WriteString(searchPromptStyle.Render(a.search.View()))
		b.WriteString("\n")
	} else if a.view.Query != "" {
		b.WriteString(searchPromptStyle.Render(fmt.Sprintf("search: %q (%d matches)", a.view.Query, a.view.Matches)))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Render(a.playbackLine()))
	b.WriteString("\n")

	if a.status != "" {
		b.WriteString(a.statusS.Render(a.status))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(helpText))

	return b.String()
}

func (a *App) window() (int, int) {
	height := a.height - 7
	if height <= 0 || height >= len(a.rows) {
		return 0, len(a.rows)
	}

	start := a.cursor - height/2
	if start < 0 {
		start = 0
	}

	end := start + height
	if end > len(a.rows) {
		end = len(a.rows)
		start = end - height
	}

	return start, end
}

func (a *App) renderRow(n guide.Node) string {
	indent := strings.Repeat("  ", n.Depth/2)

	switch n.Kind {
	case guide.KindChannel:
		icon := "▶"
		if a.view.Icons[n.ChannelID] == playback.IconPause {
			icon = playingStyle.Render("⏸")
		}

		return fmt.Sprintf("%s%s %s %s", indent, foldMark(n.Fold), icon, channelStyle.Render(n.Text))
	case guide.KindDate:
		return fmt.Sprintf("%s%s %s", indent, foldMark(n.Fold), dateStyle.Render(n.Text))
	case guide.KindProgram:
		return indent + "  " + programStyle.Render(n.Text)
	default:
		return mutedStyle.Render(n.Text)
	}
}

func (a *App) playbackLine() string {
	p := a.view.Playback

	line := p.StateName
	if p.Caption != "" {
		line += " • " + p.Caption
	} else if p.State == playback.Loading {
		line += " • " + p.Details
	}

	if p.LastError != "" {
		line += " • " + p.LastError
	}

	if a.busy {
		line += " • working..."
	}

	return line
}

func foldMark(f guide.FoldState) string {
	if f == guide.Expanded {
		return "−"
	}

	return "+"
}
