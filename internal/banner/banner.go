// Package banner prints Maegashira's startup banner, grounded on the
// teacher's app/banner.go: ASCII art from the service name via go-figure,
// styled with lipgloss. Simplified from the teacher's colorprofile/table
// terminal-capability detection, which has no component in SPEC_FULL.md
// beyond a one-shot CLI banner (see DESIGN.md).
package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
)

var gradient = []string{"12", "14", "10", "11"}

// Info is the set of values printed below the ASCII art.
type Info struct {
	Version     string
	Hostname    string
	Port        int
	APIEnabled  bool
	APIHostname string
	APIPort     int
	Clustering  int
}

// Print renders the banner to w.
func Print(w io.Writer, info Info) {
	art := figure.NewFigure("Maegashira", "", true).Slicify()

	var styled strings.Builder
	for _, line := range art {
		if strings.TrimSpace(line) == "" {
			styled.WriteString("\n")
			continue
		}
		for i, ch := range line {
			style := lipgloss.NewStyle().Foreground(lipgloss.Color(gradient[i%len(gradient)])).Bold(true)
			styled.WriteString(style.Render(string(ch)))
		}
		styled.WriteString("\n")
	}

	label := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Width(14)
	value := lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)

	fmt.Fprint(w, styled.String())
	fmt.Fprintln(w, label.Render("version")+value.Render(info.Version))
	fmt.Fprintln(w, label.Render("listening")+value.Render(fmt.Sprintf("%s:%d", info.Hostname, info.Port)))
	if info.APIEnabled {
		fmt.Fprintln(w, label.Render("management")+value.Render(fmt.Sprintf("%s:%d", info.APIHostname, info.APIPort)))
	}
	fmt.Fprintln(w, label.Render("workers")+value.Render(fmt.Sprintf("%d", info.Clustering)))
}
