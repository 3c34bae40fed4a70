package cli

import (
	"fmt"
	"strings"
	"time"

	"racewatch/internal/core/ports"
	"racewatch/internal/engine/race"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var docStyle = lipgloss.NewStyle().Margin(1, 2)

// raceUpdateMsg carries one finished watch run into the model.
type raceUpdateMsg struct {
	res ports.AnalyzeResult
	err error
}

type watchModel struct {
	table         table.Model
	result        ports.AnalyzeResult
	rows          []race.Race
	hideMitigated bool
	showDetail    bool
	runs          int
	lastErr       string
	lastUpdate    time.Time
}

func raceColumns() []table.Column {
	return []table.Column{
		{Title: "Severity", Width: 9},
		{Title: "Type", Width: 4},
		{Title: "State", Width: 28},
		{Title: "Accesses", Width: 40},
		{Title: "Mitigation", Width: 22},
	}
}

func newWatchModel(hideMitigated bool) watchModel {
	t := table.New(
		table.WithColumns(raceColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	return watchModel{
		table:         t,
		hideMitigated: hideMitigated,
		lastUpdate:    time.Now(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "m":
			m.hideMitigated = !m.hideMitigated
			m.refreshRows()
			return m, nil
		case "enter":
			m.showDetail = !m.showDetail
			return m, nil
		}
	case tea.WindowSizeMsg:
		_, v := docStyle.GetFrameSize()
		height := msg.Height - v - 12
		if height < 5 {
			height = 5
		}
		m.table.SetHeight(height)
	case raceUpdateMsg:
		m.lastUpdate = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.runs++
		m.result = msg.res
		m.refreshRows()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// refreshRows rebuilds the table from the last result, keeping the cursor
// in range.
func (m *watchModel) refreshRows() {
	m.rows = make([]race.Race, 0, len(m.result.Result.Races))
	rows := make([]table.Row, 0, len(m.result.Result.Races))
	for _, r := range m.result.Result.Races {
		if m.hideMitigated && r.HasMitigation {
			continue
		}
		m.rows = append(m.rows, r)
		mitigation := ""
		if r.HasMitigation && r.MitigationType != nil {
			mitigation = *r.MitigationType
		}
		rows = append(rows, table.Row{
			strings.ToUpper(string(r.Severity)),
			string(r.Type),
			r.StateKey,
			accessSite(r.Accesses[0]) + " <-> " + accessSite(r.Accesses[1]),
			mitigation,
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); len(rows) > 0 && (c < 0 || c >= len(rows)) {
		m.table.SetCursor(min(max(c, 0), len(rows)-1))
	}
}

func (m watchModel) selected() (race.Race, bool) {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.rows) {
		return race.Race{}, false
	}
	return m.rows[c], true
}

func (m watchModel) View() string {
	sum := m.result.Result.Summary
	title := "racewatch · watching"
	if m.result.ProjectKey != "" {
		title = "racewatch · " + m.result.ProjectKey
	}
	status := statusStyle.Render(fmt.Sprintf("Last update: %s | run %d | %d shared state | %d warnings",
		m.lastUpdate.Format("15:04:05"), m.runs, sum.SharedStateItems, sum.TotalWarnings))

	var headline string
	unmitigated := sum.TotalRaces - sum.Mitigated
	switch {
	case m.runs == 0:
		headline = statusStyle.Render("Waiting for the first run")
	case sum.TotalRaces == 0:
		headline = successStyle.Render("No races detected")
	case unmitigated == 0:
		headline = successStyle.Render(fmt.Sprintf("%d races, all mitigated", sum.TotalRaces))
	default:
		headline = raceStyle.Render(fmt.Sprintf("%d races (%d unmitigated, %d mitigated)", sum.TotalRaces, unmitigated, sum.Mitigated))
	}

	var b strings.Builder
	b.WriteString(titleStyle(title) + "\n")
	b.WriteString(status + " | " + headline + "\n")
	if d := m.result.Delta; d != nil && d.Previous != nil {
		b.WriteString(fmt.Sprintf("Since previous run: %d new, %d resolved, %d persisting\n",
			len(d.New), len(d.Resolved), d.Persisting))
	}
	b.WriteString(renderWatchHelp(m) + "\n\n")
	b.WriteString(m.table.View())

	if m.showDetail {
		if r, ok := m.selected(); ok {
			b.WriteString("\n\n" + renderRaceDetail(r))
		}
	}
	if m.lastErr != "" {
		b.WriteString("\n\n" + raceStyle.Render("analysis failed: "+m.lastErr))
	}
	return docStyle.Render(b.String())
}

func renderWatchHelp(m watchModel) string {
	mitigated := "m hide mitigated"
	if m.hideMitigated {
		mitigated = "m show mitigated"
	}
	return statusStyle.Render("Keys: ↑/↓ select | enter details | " + mitigated + " | q quit")
}

func renderRaceDetail(r race.Race) string {
	lines := []string{
		fmt.Sprintf("%s %s on %s", severityLabel(r.Severity), r.Type, r.StateKey),
		"  " + r.Description,
		fmt.Sprintf("  Score: %.3f  Priority: %s", r.Risk.RawScore, r.Risk.Testing.Priority),
	}
	for _, d := range r.Mitigation.Details {
		lines = append(lines, "  "+d)
	}
	for _, e := range r.Risk.Explanations {
		lines = append(lines, statusStyle.Render("  "+e))
	}
	return strings.Join(lines, "\n")
}
