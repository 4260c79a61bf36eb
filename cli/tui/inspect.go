package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/fedrun/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectRemote:
		content = m.renderInspectRemote()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectRemote() string {
	data, ok := m.data.(*reader.InspectRemoteResponse)
	if !ok {
		return "Invalid data type for inspect_remote"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Remote " + data.Name))
	b.WriteString("\n")

	fallbacks := "-"
	if len(data.FallbackLocations) > 0 {
		fallbacks = strings.Join(data.FallbackLocations, ", ")
	}
	rows := [][]string{
		{"Kind", data.Kind},
		{"Location", data.PrimaryLocation},
		{"Share Scope", data.ShareScope},
		{"Fallbacks", fallbacks},
	}
	if data.ChunkFilename != "" {
		rows = append(rows, []string{"Chunk File", data.ChunkFilename})
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	if len(data.Exposes) == 0 {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("(no exposed modules)"))
		return BoxStyle.Render(b.String())
	}

	b.WriteString("\n")
	b.WriteString(exposeTable(data.Exposes).View())
	return BoxStyle.Render(b.String())
}

// exposeTable lays out exposes as a static bubbles table.
func exposeTable(exposes []reader.ExposeItem) table.Model {
	columns := []table.Column{
		{Title: "Expose", Width: 14},
		{Title: "Chunk", Width: 12},
		{Title: "State", Width: 9},
		{Title: "Location", Width: 44},
	}
	rows := make([]table.Row, 0, len(exposes))
	for _, e := range exposes {
		where := e.LocalPath
		if where == "" && len(e.URLs) > 0 {
			where = e.URLs[0]
		}
		rows = append(rows, table.Row{e.Path, e.Chunk, e.State, where})
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()

	return table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
		table.WithFocused(false),
		table.WithStyles(styles),
	)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
