package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/session"
)

func newSmokeCmd(f *clientFlags) *cobra.Command {
	var (
		text    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send one message and wait until the relay confirms it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			token, err := resolveToken(ctx, *f)
			if err != nil {
				return err
			}
			url, err := wsURL(f.server)
			if err != nil {
				return err
			}

			changes := make(chan struct{}, 1)
			s := session.New(session.Options{
				URL:         url,
				Token:       token,
				Room:        f.room,
				MaxAttempts: 1,
				OnChange: func(session.Snapshot) {
					select {
					case changes <- struct{}{}:
					default:
					}
				},
			})

			// Sent before connecting; the session flushes it once history is loaded.
			clientMsgID, err := s.Send(text)
			if err != nil {
				return err
			}

			runErr := make(chan error, 1)
			go func() { runErr <- s.Run(ctx) }()

			for {
				select {
				case <-changes:
					e, done := settled(s.Snapshot(), clientMsgID)
					if !done {
						continue
					}
					if e.Status == session.StatusFailed {
						return fmt.Errorf("relay rejected message: %s", failureReason(e))
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ok id=%d room=%s created_at=%s\n",
						e.Message.ID, e.Message.Room, e.Message.CreatedAt.Format(time.RFC3339Nano))
					return nil
				case err := <-runErr:
					if err == nil {
						err = errors.New("session closed before confirmation")
					}
					return err
				case <-ctx.Done():
					return errors.New("timed out waiting for confirmation")
				}
			}
		},
	}

	cmd.Flags().StringVar(&text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "total timeout for the run")
	return cmd
}

// settled finds the entry for clientMsgID once it is no longer pending.
func settled(snap session.Snapshot, clientMsgID string) (session.Entry, bool) {
	for _, e := range snap.Entries {
		if e.Kind == session.EntryMessage && e.Message.ClientMsgID == clientMsgID {
			return e, e.Status != session.StatusPending
		}
	}
	return session.Entry{}, false
}
