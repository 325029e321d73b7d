package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/DrSkyle/agenttrace/pkg/seal"
)

func (m Model) viewHUD() string {
	stats := fmt.Sprintf("TOTAL %d   %s   %s",
		m.stats.Total,
		special.Render(fmt.Sprintf("ANCHORED %d", m.stats.Anchored)),
		warning.Render(fmt.Sprintf("UNANCHORED %d", m.stats.Unanchored)),
	)
	return hudStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("AGENT TRACE LEDGER"), stats))
}

func (m Model) viewList() string {
	var s strings.Builder
	s.WriteString(m.viewHUD() + "\n")

	if len(m.sums) == 0 {
		s.WriteString("\n   " + subtle.Render("No trace records yet. Run `agenttrace backfill <rev>` first.") + "\n")
		return s.String()
	}

	s.WriteString(m.table.View() + "\n")
	switch {
	case m.loading:
		s.WriteString(fmt.Sprintf("  %s Loading record...\n", m.spinner.View()))
	case m.err != nil:
		s.WriteString(danger.Render("  "+m.err.Error()) + "\n")
	}
	s.WriteString(subtle.Render("  ↑/↓ move • enter inspect • q quit"))
	return s.String()
}

func (m Model) viewDetails() string {
	rec := m.detail
	header := detailsHeaderStyle.Render(fmt.Sprintf("%s : %s", rec.VCS.Revision, rec.Metadata.CommitMessage))

	integrity := special.Render("HASH:        verified")
	if err := seal.Verify(rec); err != nil {
		integrity = danger.Render("HASH:        " + err.Error())
	}

	pow := "POW:         none"
	if rec.PoW != nil {
		pow = fmt.Sprintf("POW:         nonce %d, difficulty %d", rec.PoW.Nonce, rec.PoW.Difficulty)
	}

	anchor := "ANCHOR:      -"
	anchorStyled := subtle
	if st := rec.Metadata.AnchorStatus; st != nil {
		anchor = fmt.Sprintf("ANCHOR:      %s %s", st.Status, st.Reference)
		if st.Note != "" {
			anchor += " (" + st.Note + ")"
		}
		anchorStyled = anchorStyle(st.Status)
	}

	meta := []string{
		fmt.Sprintf("ID:          %s", rec.ID),
		fmt.Sprintf("TIMESTAMP:   %s", rec.Timestamp),
		fmt.Sprintf("PARENT:      %s", rec.Metadata.ParentCommit),
		fmt.Sprintf("TOOL:        %s %s", rec.Tool.Name, rec.Tool.Version),
		fmt.Sprintf("TRACE HASH:  %s", rec.Metadata.TraceHash),
	}
	if rec.Metadata.TraceID != "" {
		meta = append(meta, fmt.Sprintf("TRACE ID:    %s (parent %q)", rec.Metadata.TraceID, rec.Metadata.ParentTraceID))
	}

	var files []string
	for _, f := range rec.Files {
		for _, c := range f.Conversations {
			var ranges []string
			for _, r := range c.Ranges {
				ranges = append(ranges, fmt.Sprintf("%d-%d", r.StartLine, r.EndLine))
			}
			files = append(files, fmt.Sprintf("  %-40s %s [%s]", f.Path, c.Contributor.ModelID, strings.Join(ranges, ", ")))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		header,
		strings.Join(meta, "\n"),
		"",
		integrity,
		pow,
		anchorStyled.Render(anchor),
		"",
		highlight.Render("FILES"),
		strings.Join(files, "\n"),
		"",
		strings.Repeat("─", 50),
		subtle.Render("[B]ack to list  [Q]uit"),
	)
	return detailsBoxStyle.Render(content)
}
