package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samsaffron/cmd2ai/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionsLimit int
	sessionsJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation history",
	Long: `List or delete stored conversations.

Examples:
  cmd2ai sessions                       # list recent sessions
  cmd2ai sessions list --limit 5
  cmd2ai sessions delete <id>
  cmd2ai sessions clear                 # same as cmd2ai --clear`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClear,
}

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd} {
		c.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Maximum number of sessions to show")
		c.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
	}
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if sessionsJSON {
		if summaries == nil {
			summaries = []session.Summary{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	printSessions(cmd.OutOrStdout(), summaries, time.Now(), session.ConfigFrom(cfg.Session).Expiry)
	return nil
}

func printSessions(w io.Writer, summaries []session.Summary, now time.Time, expiry time.Duration) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	fmt.Fprintf(w, "%-10s %-40s %4s %-24s %s\n", "ID", "SUMMARY", "MSGS", "MODEL", "AGE")
	fmt.Fprintln(w, strings.Repeat("-", 92))
	for _, s := range summaries {
		summary := s.Summary
		if summary == "" {
			summary = "(empty)"
		}
		summary = truncateRunes(summary, 40)

		age := formatRelativeTime(now, s.UpdatedAt)
		if expiry > 0 && now.Sub(s.UpdatedAt) >= expiry {
			age += " (expired)"
		}
		fmt.Fprintf(w, "%-10s %-40s %4d %-24s %s\n",
			shortID(s.ID), summary, s.MessageCount, truncateRunes(s.Model, 24), age)
	}
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := resolveSessionID(cmd, store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", shortID(id))
	return nil
}

// resolveSessionID accepts a full id or a unique prefix of one listed id.
func resolveSessionID(cmd *cobra.Command, store session.Store, prefix string) (string, error) {
	if _, err := store.Get(cmd.Context(), prefix); err == nil {
		return prefix, nil
	} else if !errors.Is(err, session.ErrNotFound) {
		return "", err
	}

	summaries, err := store.List(cmd.Context(), 1000)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("session id %q is ambiguous", prefix)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("session %q: %w", prefix, session.ErrNotFound)
	}
	return match, nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Clear(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "All conversation history cleared (%d sessions).\n", n)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func formatRelativeTime(now, t time.Time) string {
	dur := now.Sub(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
