package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/bringyour/prefsync/prefs"
)

type renderer struct {
	title    lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
	received lipgloss.Style
}

// styled only on a terminal, so piped output stays plain text
func newRenderer(out *os.File) *renderer {
	return newRendererWithStyle(term.IsTerminal(int(out.Fd())))
}

func newRendererWithStyle(styled bool) *renderer {
	if !styled {
		plain := lipgloss.NewStyle()
		return &renderer{
			title:    plain,
			header:   plain,
			cell:     plain,
			received: plain,
		}
	}
	return &renderer{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header:   lipgloss.NewStyle().Bold(true).Underline(true),
		cell:     lipgloss.NewStyle(),
		received: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
}

// one row per preference: name, policy, local value, effective value, and where the effective value came from
func (self *renderer) renderCategory(category *prefs.Category, effective *prefs.EffectiveSettings) string {
	rows := [][]string{
		{"NAME", "POLICY", "LOCAL", "EFFECTIVE", "SOURCE"},
	}
	fromReceived := []bool{false}
	for _, entry := range effective.Entries() {
		pref, _ := category.Preference(entry.Name)
		effectiveText, _ := effective.Text(entry.Name)
		source := "local"
		if entry.FromReceived {
			source = "received"
		}
		rows = append(rows, []string{
			entry.Name,
			entry.Policy.String(),
			pref.Text(),
			effectiveText,
			source,
		})
		fromReceived = append(fromReceived, entry.FromReceived)
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	lines := []string{self.title.Render(category.Name())}
	for r, row := range rows {
		cells := make([]string, 0, len(row))
		for i, cell := range row {
			style := self.cell
			switch {
			case r == 0:
				style = self.header
			case fromReceived[r] && 3 <= i:
				style = self.received
			}
			if i < len(row)-1 {
				style = style.Width(widths[i] + 2)
			}
			cells = append(cells, style.Render(cell))
		}
		lines = append(lines, strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
	}
	return strings.Join(lines, "\n") + "\n"
}

// per participant, the values it reports about itself
func (self *renderer) renderParticipants(category *prefs.Category, participants *prefs.ParticipantSettings) string {
	lines := []string{self.title.Render("Participants")}
	for _, smallId := range participants.SmallIds() {
		label := fmt.Sprintf("peer %d", smallId)
		if smallId == prefs.AuthoritySmallId {
			label = "host"
		}
		values := []string{}
		effective := category.EffectiveForParticipant(participants, smallId)
		for _, entry := range effective.Entries() {
			if !entry.FromReceived {
				continue
			}
			text, _ := effective.Text(entry.Name)
			values = append(values, fmt.Sprintf("%s=%s", entry.Name, text))
		}
		lines = append(lines, self.header.Render(label)+" "+self.received.Render(strings.Join(values, ", ")))
	}
	return strings.Join(lines, "\n") + "\n"
}
