package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/session"
)

var (
	sessionsStatus string
	sessionsUser   string
	sessionsLimit  int
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusStyles = map[craftbot.Status]lipgloss.Style{
		craftbot.StatusActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		craftbot.StatusExpired: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		craftbot.StatusEnded:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions",
	Long:  `List stored sessions, most recently active first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := craftbot.Status(sessionsStatus)
		switch status {
		case "", craftbot.StatusActive, craftbot.StatusExpired, craftbot.StatusEnded:
		default:
			return fmt.Errorf("invalid --status %q: use active, expired or ended", sessionsStatus)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		summaries, err := a.lifecycle.List(ctx, session.ListOptions{
			Status: status,
			UserID: sessionsUser,
			Limit:  sessionsLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		renderSessions(cmd.OutOrStdout(), summaries, time.Now())
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active, expired, ended)")
	sessionsCmd.Flags().StringVar(&sessionsUser, "user", "", "Filter by user id")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", session.DefaultListLimit, "Maximum number of sessions")
	rootCmd.AddCommand(sessionsCmd)
}

func renderSessions(out io.Writer, summaries []craftbot.Summary, now time.Time) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(summaries))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, strings.Join([]string{
		columnStyle.Render("ID"),
		columnStyle.Render("Title"),
		columnStyle.Render("Status"),
		columnStyle.Render("Messages"),
		columnStyle.Render("Ideas"),
		columnStyle.Render("Last active"),
		columnStyle.Render("Expires"),
	}, "\t")+"\t")

	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = "Untitled session"
		}
		if r := []rune(title); len(r) > 40 {
			title = string(r[:37]) + "..."
		}

		expires := "-"
		if s.Status == craftbot.StatusActive {
			expires = relative(s.ExpiresAt, now)
		}

		fmt.Fprintln(w, strings.Join([]string{
			idStyle.Render(s.ID),
			title,
			statusStyles[s.Status].Render(string(s.Status)),
			countStyle.Render(strconv.Itoa(s.MessageCount)),
			countStyle.Render(strconv.Itoa(s.IdeaCount)),
			dateStyle.Render(s.LastActivityAt.Local().Format("Jan 02 15:04")),
			dateStyle.Render(expires),
		}, "\t")+"\t")
	}
	w.Flush()
}

// relative renders t against now as "in 5m" or "3m ago".
func relative(t, now time.Time) string {
	d := t.Sub(now).Round(time.Minute)
	switch {
	case d > 0:
		return "in " + shortDuration(d)
	case d < 0:
		return shortDuration(-d) + " ago"
	default:
		return "now"
	}
}

func shortDuration(d time.Duration) string {
	h, m := int(d.Hours()), int(d.Minutes())%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%dm", h, m)
	}
}
