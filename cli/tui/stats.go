package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/fedrun/cli/reader"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsImport:
		content = m.renderStatsImport()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsImport() string {
	data, ok := m.data.(*reader.ImportStats)
	if !ok {
		return "Invalid data type for stats_import"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Load Statistics (%s)", data.Runtime)))
	b.WriteString("\n\n")

	registry := []string{
		m.renderStatBox("Requests", data.ChunkRequests, highlightColor),
		m.renderStatBox("Dedup Joins", data.DedupJoins, highlightColor),
		m.renderStatBox("Installed", data.LoadsInstalled, successColor),
		m.renderStatBox("Failed", data.LoadsFailed, errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, registry...))
	b.WriteString("\n")

	transport := []string{
		m.renderStatBox("Local Hits", data.LocalFetchSuccess, successColor),
		m.renderStatBox("Remote Hits", data.RemoteFetchSuccess, successColor),
		m.renderStatBox("Fetch Errors", data.LocalFetchFailure+data.RemoteFetchFailure, warningColor),
		m.renderStatBox("Bytes", data.BytesFetched, highlightColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, transport...))
	b.WriteString("\n")

	sandbox := []string{
		m.renderStatBox("Evaluations", data.Evaluations, highlightColor),
		m.renderStatBox("Eval Errors", data.EvaluationFailures, errorColor),
		m.renderStatBox("Imports", data.ModuleImports, highlightColor),
		m.renderStatBox("Cache Hits", data.ModuleCacheHits, successColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sandbox...))

	if len(data.InstalledByRemote) > 0 {
		remotes := make([]string, 0, len(data.InstalledByRemote))
		for name := range data.InstalledByRemote {
			remotes = append(remotes, name)
		}
		sort.Strings(remotes)

		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render("Installed by remote"))
		b.WriteString("\n")
		for _, name := range remotes {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(name+":"),
				ValueStyle.Render(fmt.Sprintf("%d", data.InstalledByRemote[name]))))
		}
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
