package viewer

import (
	"net/netip"
	"slices"
	"strings"

	"github.com/activecm/flowguard/pkg/flow"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	validSeverities = map[string]bool{
		string(flow.SeverityCritical): true,
		string(flow.SeverityHigh):     true,
		string(flow.SeverityMedium):   true,
		string(flow.SeverityLow):      true,
	}

	validKinds = map[string]bool{
		string(flow.KindPortScan):     true,
		string(flow.KindDDoS):         true,
		string(flow.KindC2Beacon):     true,
		string(flow.KindCryptoMining): true,
		string(flow.KindTorUsage):     true,
	}

	allowedSortColumns = []string{"published", "confidence"}

	stringColumns = []string{"src", "kind", "severity", "sort"}
)

var searchStyle = lipgloss.NewStyle().MarginTop(3)

// Filter narrows GetResults to findings matching the given source address,
// kind, or severity, and optionally orders the result set.
type Filter struct {
	Src            string
	Kind           string
	Severity       string
	SortPublished  string
	SortConfidence string
}

type searchModel struct {
	initialValue string
	TextInput    textinput.Model
	width        int
	searchErr    string
}

func NewSearchModel(initialValue string, width int) searchModel {
	ti := textinput.New()
	ti.Placeholder = ""
	ti.Focus()
	ti.PromptStyle = ti.PromptStyle.Copy().Foreground(mauve)
	ti.TextStyle = ti.TextStyle.Copy().Faint(true)
	ti.Blur()
	ti.SetValue(initialValue)
	ti.CursorStart()

	return searchModel{
		TextInput:    ti,
		initialValue: initialValue,
		width:        width,
	}
}

func (m searchModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m searchModel) Update(msg tea.Msg) (searchModel, tea.Cmd) {
	var cmd tea.Cmd
	m.TextInput, cmd = m.TextInput.Update(msg)
	return m, cmd
}

func (m searchModel) View() string {
	helpStyle := lipgloss.NewStyle().Foreground(overlay0)
	subduedHelpStyle := lipgloss.NewStyle().Foreground(surface0)
	var label string
	switch {
	case m.searchErr != "":
		m.TextInput.Prompt = ""
		label = lipgloss.NewStyle().Foreground(red).Render(m.searchErr)
	case m.TextInput.Focused():
		m.TextInput.Prompt = ""
		label = lipgloss.JoinHorizontal(lipgloss.Left,
			helpStyle.Render("enter"), " ", subduedHelpStyle.Render("submit"), " ", subduedHelpStyle.Render(bullet), " ",
			helpStyle.Render("esc"), " ", subduedHelpStyle.Render("cancel search"), " ", subduedHelpStyle.Render(bullet), " ",
			helpStyle.Render("ctrl+x"), " ", subduedHelpStyle.Render("clear"), " ", subduedHelpStyle.Render(bullet), " ",
			helpStyle.Render("?"), " ", subduedHelpStyle.Render("toggle help"),
		)
	default:
		label = helpStyle.Render("press / to begin search")
		if m.TextInput.Value() == "" {
			m.TextInput.Prompt = "Search: "
		} else {
			label = lipgloss.JoinHorizontal(lipgloss.Left,
				label, " ", subduedHelpStyle.Render("edit"), " ", subduedHelpStyle.Render(bullet), " ",
				helpStyle.Render("ctrl+x"), " ", subduedHelpStyle.Render("clear filter"),
			)
			m.TextInput.Prompt = ""
		}
	}
	help := lipgloss.NewStyle().MarginLeft(1).Foreground(helpTextColor).Render(label)
	input := lipgloss.NewStyle().
		Width(m.width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(overlay0).
		Render(m.TextInput.View())

	return searchStyle.Render(lipgloss.JoinVertical(lipgloss.Top, help, input))
}

func (m *searchModel) Focus() {
	m.TextInput.TextStyle = m.TextInput.TextStyle.Copy().Faint(false)
	m.TextInput.CursorEnd()
	m.TextInput.Focus()
}

func (m *searchModel) Blur() {
	m.TextInput.TextStyle = m.TextInput.TextStyle.Copy().Faint(true)
	m.TextInput.Blur()
}

func (m *searchModel) SetValue(val string) {
	m.TextInput.SetValue(val)
}

func (m *searchModel) Value() string {
	return m.TextInput.Value()
}

func (m *searchModel) ValidateSearchInput() {
	switch {
	case strings.Contains(m.Value(), ","):
		m.searchErr = "commas are not supported"
	default:
		m.searchErr = ""
	}

	split := strings.Split(m.Value(), " ")
	if len(split) > 1 {
		if _, err := ParseSearchInput(m.Value()); err != "" {
			m.searchErr = err
		}
	}
}

func (m *searchModel) Filter() Filter {
	filter, err := ParseSearchInput(m.TextInput.Value())
	if err != "" {
		m.searchErr = err
	}
	return filter
}

// ParseSearchInput parses a space-separated field:value search string into a Filter.
func ParseSearchInput(input string) (Filter, string) {
	criteria := Filter{}

	if input == "" {
		return Filter{}, ""
	}

	if strings.Contains(input, ",") {
		return Filter{}, "commas are not supported"
	}

	pairs := strings.Fields(input)

	for _, pair := range pairs {
		if pair == "" {
			continue
		}

		if !strings.Contains(pair, ":") {
			return Filter{}, "column name and value must be separated by a colon"
		}

		split := strings.SplitN(pair, ":", 2)
		field := split[0]
		value := split[1]

		if !slices.Contains(stringColumns, field) {
			return Filter{}, "please reference a valid search column"
		}

		switch field {
		case "src":
			if _, err := netip.ParseAddr(value); err != nil {
				return Filter{}, "src must be a valid IP address"
			}
			criteria.Src = value

		case "kind":
			upper := strings.ToUpper(value)
			if !validKinds[upper] {
				return Filter{}, "invalid kind, must be one of port_scan, ddos, c2_beacon, crypto_mining, tor_usage"
			}
			criteria.Kind = upper

		case "severity":
			upper := strings.ToUpper(value)
			if !validSeverities[upper] {
				return Filter{}, "invalid severity, must be 'critical', 'high', 'medium', or 'low'"
			}
			criteria.Severity = upper

		case "sort": // sort:published-asc
			sortSplit := strings.Split(value, "-")
			if len(sortSplit) != 2 {
				return Filter{}, "sort value must contain one hyphen, in the format sort:<column>-<direction>"
			}

			column := sortSplit[0]
			direction := sortSplit[1]

			if !slices.Contains(allowedSortColumns, column) {
				return Filter{}, "invalid sort column"
			}
			if direction != "asc" && direction != "desc" {
				return Filter{}, "sort direction must be either asc or desc"
			}

			switch column {
			case "published":
				criteria.SortPublished = strings.ToUpper(direction)
			case "confidence":
				criteria.SortConfidence = strings.ToUpper(direction)
			}
		}
	}

	return criteria, ""
}
