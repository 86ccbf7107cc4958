package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Stats counts the outcome of a run
type Stats struct {
	RunID  string
	DryRun bool

	// Selected contacts passed every filter and were queued for sending
	Selected int

	// Sent counts delivered messages, or simulated ones in a dry run
	Sent int

	Failed int

	// Skipped contacts already had status SENT or SKIP
	Skipped int

	// Invalid contacts had an unusable address
	Invalid int

	Duration time.Duration
}

var (
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
	summaryTitle = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Summary renders the stats as a bordered box
func (s *Stats) Summary() string {
	title := "SUMMARY"
	sentLabel := "Sent"
	if s.DryRun {
		title = "SUMMARY (dry run)"
		sentLabel = "Simulated"
	}

	lines := []string{
		summaryTitle.Render(title),
		okStyle.Render(fmt.Sprintf("✓ %s: %d", sentLabel, s.Sent)),
	}
	if s.Failed > 0 {
		lines = append(lines, failStyle.Render(fmt.Sprintf("✗ Failed: %d", s.Failed)))
	}
	if s.Invalid > 0 {
		lines = append(lines, failStyle.Render(fmt.Sprintf("✗ Invalid: %d", s.Invalid)))
	}
	if s.Skipped > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("⏭ Skipped: %d", s.Skipped)))
	}
	lines = append(lines, fmt.Sprintf("Selected: %d", s.Selected))
	if s.Duration > 0 {
		lines = append(lines, fmt.Sprintf("Duration: %s", s.Duration.Round(time.Second)))
	}
	if s.RunID != "" {
		lines = append(lines, "Run: "+s.RunID)
	}

	return summaryBox.Render(strings.Join(lines, "\n"))
}

// Vars returns the stats as placeholder values for after hooks
func (s *Stats) Vars() map[string]string {
	return map[string]string{
		"run_id":   s.RunID,
		"selected": strconv.Itoa(s.Selected),
		"sent":     strconv.Itoa(s.Sent),
		"failed":   strconv.Itoa(s.Failed),
		"skipped":  strconv.Itoa(s.Skipped),
		"invalid":  strconv.Itoa(s.Invalid),
	}
}
