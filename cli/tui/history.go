package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/wvrunner/cli/reader"
)

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	NextDay key.Binding
	PrevDay key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	NextDay: key.NewBinding(
		key.WithKeys("right", "l", "n"),
		key.WithHelp("→", "next day"),
	),
	PrevDay: key.NewBinding(
		key.WithKeys("left", "h", "p"),
		key.WithHelp("←", "previous day"),
	),
}

var runColumns = []table.Column{
	{Title: "#", Width: 3},
	{Title: "Status", Width: 14},
	{Title: "Worked", Width: 7},
	{Title: "Remaining", Width: 9},
	{Title: "Tries", Width: 5},
	{Title: "Finished", Width: 20},
	{Title: "Message", Width: 40},
}

func tableWidth() int {
	w := 0
	for _, c := range runColumns {
		// cells are padded by one space on each side
		w += c.Width + 2
	}
	return w
}

// HistoryModel is a Bubble Tea model for the history view. It shows one
// session day at a time: quota stat boxes above a table of its runs.
type HistoryModel struct {
	history  *reader.History
	day      int
	table    table.Model
	width    int
	height   int
	quitting bool
}

// NewHistoryModel creates a history model focused on the most recent day.
func NewHistoryModel(h *reader.History) HistoryModel {
	if h == nil {
		h = &reader.History{}
	}
	t := table.New(
		table.WithColumns(runColumns),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithWidth(tableWidth()),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(primaryColor)
	t.SetStyles(styles)

	m := HistoryModel{history: h, table: t}
	m.day = len(h.Days) - 1
	m.syncRows()
	return m
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := msg.Height - 14; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.NextDay):
			if m.day < len(m.history.Days)-1 {
				m.day++
				m.syncRows()
			}
			return m, nil
		case key.Matches(msg, keys.PrevDay):
			if m.day > 0 {
				m.day--
				m.syncRows()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *HistoryModel) syncRows() {
	if m.day < 0 || m.day >= len(m.history.Days) {
		m.table.SetRows(nil)
		return
	}
	runs := m.history.Days[m.day].Runs
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", r.Run),
			r.Status,
			fmt.Sprintf("%.2f", r.Worked),
			fmt.Sprintf("%.2f", r.Remaining),
			fmt.Sprintf("%d", r.Attempts),
			r.FinishedAt,
			r.Message,
		})
	}
	m.table.SetRows(rows)
	m.table.GotoTop()
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}
	if len(m.history.Days) == 0 {
		return TitleStyle.Render("Run History") + "\n" +
			ValueStyle.Render("No journaled runs.") + "\n" +
			HelpStyle.Render("Press q or Ctrl+C to quit")
	}

	d := m.history.Days[m.day]
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Run History: %s (%d/%d)", d.Day, m.day+1, len(m.history.Days))))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Workflow:"), ValueStyle.Render(d.Workflow)))
	b.WriteString(fmt.Sprintf("%s %s\n\n", LabelStyle.Render("Session:"), ValueStyle.Render(d.SessionID)))

	s := d.Summary
	remainingColor := successColor
	if s.RemainingHours <= 0 {
		remainingColor = warningColor
	}
	boxes := []string{
		renderStatBox("Goal", fmt.Sprintf("%.2f", s.DailyGoal), highlightColor),
		renderStatBox("Worked", fmt.Sprintf("%.2f", s.TotalWorked), primaryColor),
		renderStatBox("Remaining", fmt.Sprintf("%.2f", s.RemainingHours), remainingColor),
		renderStatBox("Runs", fmt.Sprintf("%d", s.Runs), highlightColor),
		renderStatBox("Failed", fmt.Sprintf("%d", s.Failed), errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	verdict := "continue"
	if !s.ShouldContinue {
		verdict = "stop"
	}
	b.WriteString(fmt.Sprintf("%s %s (%s)\n\n",
		LabelStyle.Render("Verdict:"),
		StatusStyle(verdictStatus(s)).Render(verdict),
		s.WaitReason))

	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("←/→ change day • ↑/↓ scroll • q quit"))
	return b.String()
}

func verdictStatus(s reader.QuotaSummary) string {
	switch {
	case s.Failed > 0 && !s.ShouldContinue:
		return "error"
	case !s.ShouldContinue:
		return "no_more_tasks"
	default:
		return "success"
	}
}

func renderStatBox(label, value string, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunHistoryTUI runs the history TUI.
func RunHistoryTUI(data any) error {
	h, ok := data.(*reader.History)
	if !ok {
		return fmt.Errorf("invalid data type for history: %T", data)
	}
	p := tea.NewProgram(NewHistoryModel(h), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderHistoryStatic renders the history view without a full TUI.
func RenderHistoryStatic(h *reader.History) string {
	model := NewHistoryModel(h)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
