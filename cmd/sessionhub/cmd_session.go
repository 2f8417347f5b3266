package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionShowCmd, sessionTailCmd, sessionDeleteCmd)
	sessionCreateCmd.Flags().StringVar(&sessionCreateKind, "kind", "pty", "session kind")
	sessionListCmd.Flags().StringVar(&sessionListKind, "kind", "", "filter by session kind")
	sessionTailCmd.Flags().Int64Var(&sessionTailAfter, "after-seq", 0, "only events after this seq")
}

var (
	sessionCreateKind string
	sessionListKind   string
	sessionTailAfter  int64
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

func openStore() (*store.DB, error) {
	cfg := loadConfig()
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// sessionCreateCmd goes through the daemon rather than the store so the
// session's backing process starts immediately.
var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session via the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		body, err := json.Marshal(map[string]string{"kind": sessionCreateKind})
		if err != nil {
			return err
		}
		resp, err := http.Post("http://"+cfg.Listen+"/api/sessions", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("contact daemon: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("daemon returned %s: %s", resp.Status, msg)
		}

		var sess types.Session
		if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Created session %s (%s, %s).\n", sess.ID, sess.Kind, sess.Status)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		registry := store.NewSessionRegistry(db)
		events := store.NewEventStore(db)

		ctx := context.Background()
		list, err := registry.List(ctx, types.SessionKind(sessionListKind))
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tEVENTS\tUPDATED")
		for _, s := range list {
			count, err := events.Count(ctx, s.ID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ID,
				s.Kind,
				s.Status,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		registry := store.NewSessionRegistry(db)
		events := store.NewEventStore(db)

		ctx := context.Background()
		sess, err := registry.Get(ctx, types.SessionID(args[0]))
		if err != nil {
			return err
		}
		count, err := events.Count(ctx, sess.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "ID:       %s\n", sess.ID)
		fmt.Fprintf(os.Stdout, "Kind:     %s\n", sess.Kind)
		fmt.Fprintf(os.Stdout, "Status:   %s\n", sess.Status)
		if sess.OwnerID != "" {
			fmt.Fprintf(os.Stdout, "Owner:    %s\n", sess.OwnerID)
		}
		fmt.Fprintf(os.Stdout, "Events:   %d\n", count)
		fmt.Fprintf(os.Stdout, "Created:  %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(os.Stdout, "Updated:  %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05"))
		if len(sess.Metadata) > 0 {
			fmt.Fprintf(os.Stdout, "Metadata: %s\n", sess.Metadata)
		}
		return nil
	},
}

var sessionTailCmd = &cobra.Command{
	Use:   "tail <id>",
	Short: "Print a session's stored events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		events := store.NewEventStore(db)

		list, err := events.Since(context.Background(), types.SessionID(args[0]), sessionTailAfter)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No events.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tCHANNEL\tTYPE\tAT\tPAYLOAD")
		for _, ev := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				ev.Seq,
				ev.Channel,
				ev.Type,
				ev.At.Format("15:04:05.000"),
				payloadPreview(ev),
			)
		}
		return w.Flush()
	},
}

// payloadPreview renders a payload on one table row, truncated.
func payloadPreview(ev *types.Event) string {
	var s string
	if ev.Payload.Structured != nil {
		s = string(ev.Payload.Structured)
	} else {
		s = fmt.Sprintf("%q", ev.Payload.Bytes)
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and all its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		uow := store.NewUnitOfWork(db)

		if err := uow.PurgeSession(context.Background(), types.SessionID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
		return nil
	},
}
