package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/attach"
	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().Int64Var(&attachLastSeq, "last-seq", 0, "resume after this seq (0 for full replay)")
}

var attachLastSeq int64

// frames mirror the daemon's attach protocol.
type inboundFrame struct {
	Type    string         `json:"type"`
	Events  []*types.Event `json:"events,omitempty"`
	Event   *types.Event   `json:"event,omitempty"`
	Message string         `json:"message,omitempty"`
}

type outboundFrame struct {
	Type string `json:"type"`
	Data []byte `json:"data,omitempty"`
}

var attachCmd = &cobra.Command{
	Use:   "attach <session-id>",
	Short: "Attach to a session and stream its events",
	Long: `Attach connects to the daemon, replays the session's backlog since
--last-seq, then streams live events. Stdin is forwarded as input to
the session's process. Detach with Ctrl-D or by closing stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	sessionID := args[0]

	url := fmt.Sprintf("ws://%s/api/sessions/%s/attach?last_seq=%d", cfg.Listen, sessionID, attachLastSeq)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()

	tracker := attach.NewTracker(time.Duration(cfg.CatchupTimeoutMs)*time.Millisecond, func(state attach.State) {
		slog.Debug("attachment state changed", "state", state)
	})
	tracker.OnAttach(attachLastSeq > 0)

	// Forward stdin to the session until it closes.
	readerErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if werr := conn.WriteJSON(outboundFrame{Type: "input", Data: data}); werr != nil {
					readerErr <- werr
					return
				}
				tracker.OnSend()
			}
			if err != nil {
				// Stdin closed: tell the daemon we are detaching.
				_ = conn.WriteJSON(outboundFrame{Type: "detach"})
				readerErr <- nil
				return
			}
		}
	}()

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			tracker.OnDetach()
			select {
			case rerr := <-readerErr:
				if rerr == nil {
					return nil
				}
			default:
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		switch frame.Type {
		case "backlog":
			for _, ev := range frame.Events {
				printEvent(ev)
			}
			tracker.OnEvent()
		case "event":
			printEvent(frame.Event)
			tracker.OnEvent()
		case "error":
			tracker.OnError()
			fmt.Fprintf(os.Stderr, "daemon error: %s\n", frame.Message)
		}
	}
}

// printEvent writes chunk output raw; everything else goes to stderr so
// piping a PTY session produces clean bytes.
func printEvent(ev *types.Event) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case types.EventChunk:
		os.Stdout.Write(ev.Payload.Bytes)
	case types.EventOpen:
		fmt.Fprintf(os.Stderr, "[session open: %s]\n", ev.Payload.Bytes)
	case types.EventClose:
		fmt.Fprintf(os.Stderr, "[session closed]\n")
	default:
		fmt.Fprintf(os.Stderr, "[%s/%s] %s\n", ev.Channel, ev.Type, ev.Payload.Encode())
	}
}
