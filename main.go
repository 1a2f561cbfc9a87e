package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	markdown "github.com/vlanse/go-term-markdown"
	"golang.org/x/term"

	"github.com/pooolify/pooolctl/history"
)

var historyMgr *history.Manager

func is_interactive(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		if w > 120 {
			return 120
		}
		return w
	}
	return 80
}

func main() {
	// Local .env is honored before env lookups; absence is fine.
	godotenv.Load()

	cfgFile, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfgFile = &ConfigFile{}
	}

	if dir, err := configDir(); err == nil {
		mgr, err := history.New(
			filepath.Join(dir, "history.db"),
			filepath.Join(dir, "exchanges.jsonl"),
		)
		if err == nil {
			historyMgr = mgr
			defer historyMgr.Close()
		}
	}

	rootCmd := &cobra.Command{
		Use:          "pooolctl",
		Short:        "Chat console for a pooolify agent backend",
		Long:         "pooolctl submits queries to a pooolify agent service and polls the session conversation until the backend settles.",
		SilenceUsage: true,
	}

	addClientFlags(rootCmd.PersistentFlags())

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat console",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := getRunConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			client := NewClient(rc.APIBase, rc.Token, rc.Timeout, rc.Verbose)
			return runChatTUI(rc, client, func(query string, snap *ConversationSnapshot) {
				logExchange(rc, query, snap)
			})
		},
	}
	rootCmd.AddCommand(chatCmd)

	sendCmd := &cobra.Command{
		Use:   "send [query...]",
		Short: "Submit one query, poll to settlement, print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := getRunConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			return runSend(cmd.Context(), rc, strings.Join(args, " "))
		},
	}
	rootCmd.AddCommand(sendCmd)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Fetch and print the current conversation snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := getRunConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			client := NewClient(rc.APIBase, rc.Token, rc.Timeout, rc.Verbose)
			ctx, cancel := context.WithTimeout(cmd.Context(), rc.Timeout)
			defer cancel()
			snap, err := client.FetchConversation(ctx, rc.Session)
			if err != nil {
				return err
			}
			printSnapshot(snap, rc.ShowInternal)
			return nil
		},
	}
	rootCmd.AddCommand(showCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Ping the backend's /v1/healthz endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := getRunConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			client := NewClient(rc.APIBase, rc.Token, rc.Timeout, rc.Verbose)
			ctx, cancel := context.WithTimeout(cmd.Context(), rc.Timeout)
			defer cancel()
			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Health: %v\n", health)
			return nil
		},
	}
	rootCmd.AddCommand(healthCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List locally logged sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyMgr == nil {
				return fmt.Errorf("history manager not initialized")
			}
			sessions, err := historyMgr.ListRecentSessions(20)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No logged sessions yet.")
				return nil
			}
			if is_interactive(os.Stdout.Fd()) {
				return browseHistory(sessions)
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-12s (%s, %d exchanges): %s\n",
					s.Timestamp.Format("2006-01-02 15:04"), s.SessionID, s.Model, s.Exchanges, s.Summary)
			}
			return nil
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search logged exchanges",
		Long:  "Search past exchanges. Use 'you:term' or 'ai:term' to match only queries or answers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyMgr == nil {
				return fmt.Errorf("history manager not initialized")
			}
			results, err := historyMgr.Search(args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches found.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("\033[1;34m%s\033[0m [%s] (%s): %s\n",
					r.Timestamp.Format("2006-01-02 15:04"), r.SessionID, r.Field, r.Preview)
			}
			return nil
		},
	}
	historyCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runSend drives one full submit/poll cycle without the TUI.
func runSend(ctx context.Context, rc RunConfig, query string) error {
	client := NewClient(rc.APIBase, rc.Token, rc.Timeout, rc.Verbose)
	coord := NewCoordinator(client, rc.Session, rc.Model, rc.RefreshEvery)

	interactive := is_interactive(os.Stdout.Fd())
	coord.OnError = func(err error) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := coord.Submit(ctx, query); err != nil {
		return err
	}

	snap := coord.Snapshot()
	if snap == nil {
		return fmt.Errorf("no conversation state received for session %s", rc.Session)
	}

	logExchange(rc, query, snap)

	if snap.Processing() {
		fmt.Fprintf(os.Stderr, "Note: backend is still processing; showing the latest snapshot.\n")
	}

	text, agent, ok := snap.LastAnswer()
	if !ok {
		fmt.Println("<no answer yet>")
		return nil
	}
	if interactive {
		if agent != "" {
			fmt.Printf("\033[1;34m%s:\033[0m\n", agent)
		}
		fmt.Print(string(markdown.Render(text, terminalWidth(), 0)))
		fmt.Println()
	} else {
		fmt.Println(text)
	}
	return nil
}

func printSnapshot(snap *ConversationSnapshot, showInternal bool) {
	if len(snap.Conversation) == 0 {
		fmt.Println("No conversation yet. Send a message.")
		return
	}
	if snap.Processing() {
		fmt.Printf("[processing, request %s]\n\n", *snap.CurrentRequestID)
	}
	for _, msg := range snap.Conversation {
		stamp := msg.Timestamp
		if stamp != "" {
			stamp = " · " + stamp
		}
		fmt.Printf("=== %s%s\n", msg.RoleLabel(), stamp)
		if text := msg.DisplayText(); text != "" {
			fmt.Println(text)
		}
		if showInternal && msg.HasInternal() {
			c := msg.Content
			for _, trace := range []struct{ name, body string }{
				{"thought", c.Thought}, {"plan", c.Plan}, {"route", c.Route}, {"decision", c.Decision},
			} {
				if trace.body != "" {
					fmt.Printf("  [%s] %s\n", trace.name, strings.TrimSpace(trace.body))
				}
			}
		}
		fmt.Println()
	}
}

// logExchange records a settled cycle in the local history log.
func logExchange(rc RunConfig, query string, snap *ConversationSnapshot) {
	if historyMgr == nil || snap == nil {
		return
	}
	answer, agent, _ := snap.LastAnswer()
	historyMgr.SaveExchange(history.ExchangeEvent{
		SessionID: rc.Session,
		TS:        time.Now().Unix(),
		Model:     rc.Model,
		Query:     query,
		Agent:     agent,
		Answer:    answer,
		TimedOut:  snap.Processing(),
	})
}
