package viewer

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var sideBarStyle = lipgloss.NewStyle()

// detail is a single labeled fact shown in the sidebar's detail list.
type detail struct {
	label string
	value string
}

type sidebarModel struct {
	Viewport       viewport.Model
	Data           *Item
	Height         int
	maxTimestamp   time.Time
	useCurrentTime bool
	ScrollEnabled  bool
}

func NewSidebarModel(maxTS time.Time, useCurrentTime bool, initialData *Item) sidebarModel {
	return sidebarModel{
		Viewport:       viewport.Model{},
		maxTimestamp:   maxTS,
		useCurrentTime: useCurrentTime,
		Data:           initialData,
	}
}

func (m *sidebarModel) Init() tea.Cmd {
	m.Viewport.SetContent(m.getSidebarContents())
	return nil
}

type UpdateItem *Item

func (m *sidebarModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {

	case UpdateItem:

		m.Data = msg
		content := m.getSidebarContents()
		numlines := strings.Count(content, "\n") + 1 + 2

		numToClear := m.Viewport.Height - numlines
		if numToClear > 0 {
			spaces := m.Viewport.Width - 2
			for i := 0; i < numToClear; i++ {
				content += fmt.Sprintf("%*s\n", spaces, "")
			}
		}

		m.Viewport.SetContent(content)

	case tea.WindowSizeMsg:
		cmds = append(cmds, viewport.Sync(m.Viewport))
	}
	return m, tea.Batch(cmds...)
}

func (m *sidebarModel) View() string {
	borderColor := mauve
	if m.ScrollEnabled {
		borderColor = green
	}
	style := sideBarStyle.
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor)
	sidebar := style.Render(m.Viewport.View())
	return lipgloss.NewStyle().Render(sidebar)
}

// getSidebarContents gets and formats the data to be displayed in the sidebar
func (m *sidebarModel) getSidebarContents() string {
	if m.Data == nil || m.Data.ID == "" {
		return lipgloss.NewStyle().Foreground(overlay0).Render("No result found.")
	}

	headerPadding := 2
	headerLabelStyle := lipgloss.NewStyle().Padding(0, headerPadding).Background(overlay0).Foreground(defaultTextColor).Bold(true)
	headerValueStyle := lipgloss.NewStyle().Padding(0, headerPadding).Background(mauve).Foreground(base).Bold(true)

	srcLabel := "SRC"
	srcStyle := lipgloss.NewStyle().Width(m.Viewport.Width - len(srcLabel) - (headerPadding * 4))
	dstLabel := "DST"
	dstStyle := lipgloss.NewStyle().Width(m.Viewport.Width - len(dstLabel) - (headerPadding * 4))
	srcValueStyle := headerValueStyle.Render(Truncate(m.Data.GetSrc(), &srcStyle))
	dstValueStyle := headerValueStyle.Render(Truncate(m.Data.GetDst(), &dstStyle))

	src := lipgloss.JoinHorizontal(lipgloss.Left, headerLabelStyle.Render(srcLabel), srcValueStyle)
	dst := lipgloss.JoinHorizontal(lipgloss.Left, headerLabelStyle.Render(dstLabel), dstValueStyle)
	target := lipgloss.JoinVertical(lipgloss.Top, lipgloss.NewStyle().MarginBottom(1).Render(src), dst)
	heading := lipgloss.NewStyle().MarginBottom(1).Render(target)

	sectionStyle := lipgloss.NewStyle().
		Foreground(overlay2).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(surface0).
		Width(m.Viewport.Width)

	detailLabel := sectionStyle.Render("「 Finding Details 」")
	details := m.renderDetails()

	return lipgloss.JoinVertical(lipgloss.Top, heading, detailLabel, details)
}

// renderDetails formats the finding's kind, confidence, validity, and
// provenance facts for the sidebar.
func (m *sidebarModel) renderDetails() string {
	detailList := m.getDetails()

	var renderedDetails []string
	for _, d := range detailList {
		renderedDetails = append(renderedDetails, renderDetail(d))
	}

	newlineStyle := lipgloss.NewStyle().PaddingRight(1).BorderForeground(overlay2).Border(lipgloss.NormalBorder(), false, true, false, false)
	linebreakStyle := lipgloss.NewStyle().MarginBottom(1)

	var detailLines []string
	var current string
	for i, rendered := range renderedDetails {
		if i == 0 {
			current = newlineStyle.Render(rendered)
			continue
		}

		candidate := lipgloss.JoinHorizontal(lipgloss.Left, current, lipgloss.NewStyle().Padding(0, 1).BorderForeground(overlay2).Border(lipgloss.NormalBorder(), false, true, false, false).Render(rendered))

		if m.Viewport.Width <= lipgloss.Width(candidate) {
			detailLines = append(detailLines, linebreakStyle.Render(current))
			current = newlineStyle.Render(rendered)
		} else {
			current = candidate
		}
	}
	detailLines = append(detailLines, linebreakStyle.Render(current))

	return lipgloss.JoinVertical(lipgloss.Top, detailLines...)
}

// getDetails gathers all of the labeled facts for the currently selected finding.
func (m *sidebarModel) getDetails() []detail {
	d := m.Data

	details := []detail{
		{label: "Kind", value: d.GetKind()},
		{label: "Confidence", value: d.GetConfidence()},
		{label: "Priority", value: fmt.Sprintf("%d", d.Priority)},
	}

	if d.DstPort != 0 {
		details = append(details, detail{label: "Port", value: fmt.Sprintf("%d", d.DstPort)})
	}

	if d.GroupSize > 1 {
		details = append(details, detail{label: "Group Size", value: fmt.Sprintf("%d related", d.GroupSize)})
	}

	validLabel := "Pending Review"
	if d.Valid == 1 {
		validLabel = "Confirmed"
	}
	details = append(details, detail{label: "Validation", value: validLabel})

	if d.Fallback == 1 {
		details = append(details, detail{label: "ML Fallback", value: "deterministic rules only"})
	}

	details = append(details, detail{label: "Published", value: d.GetPublishedAt()})
	details = append(details, detail{label: "Producer", value: d.ProducerID})
	if d.PrimaryAnomalyID != "" {
		details = append(details, detail{label: "Primary Anomaly", value: d.PrimaryAnomalyID})
	}

	return details
}

// renderDetail formats and styles a single detail for rendering.
func renderDetail(d detail) string {
	header := lipgloss.NewStyle().Background(overlay2).Foreground(base).Bold(true).Padding(0, 2).Render(d.label)
	value := lipgloss.NewStyle().Foreground(defaultTextColor).Render(d.value)
	return lipgloss.JoinVertical(lipgloss.Top, header, value)
}
