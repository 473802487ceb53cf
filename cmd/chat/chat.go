package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vovakirdan/wirechat-relay/internal/log"
	"github.com/vovakirdan/wirechat-relay/internal/session"
)

// printer renders new timeline entries and state changes.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	state   session.State
	printed map[string]bool
	shown   int
}

func (p *printer) onChange(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.State != p.state {
		p.state = snap.State
		if snap.Err != nil {
			fmt.Fprintf(p.out, "* %s (%v)\n", snap.State, snap.Err)
		} else {
			fmt.Fprintf(p.out, "* %s\n", snap.State)
		}
	}

	for _, e := range snap.Entries {
		switch e.Kind {
		case session.EntryPresence:
			key := fmt.Sprintf("p:%d:%s:%d", e.Presence.Actor.ID, e.Presence.Kind, e.Presence.Timestamp.UnixNano())
			if !p.printed[key] {
				p.printed[key] = true
				fmt.Fprintf(p.out, "[%s] %s\n", e.Presence.Room, e.Presence.Description)
			}
		case session.EntryMessage:
			if e.Status == session.StatusPending {
				continue
			}
			key := fmt.Sprintf("m:%d:%s", e.Message.ID, e.Message.ClientMsgID)
			if p.printed[key] {
				continue
			}
			p.printed[key] = true
			if e.Status == session.StatusFailed {
				fmt.Fprintf(p.out, "! not sent: %s (%s)\n", e.Message.Body, failureReason(e))
				continue
			}
			fmt.Fprintf(p.out, "[%s] %s %s: %s\n", e.Message.Room, e.Message.CreatedAt.Local().Format("15:04:05"), e.Message.Author.Name, e.Message.Body)
		}
	}
}

func failureReason(e session.Entry) string {
	if e.Error == nil {
		return "unknown error"
	}
	return e.Error.Msg
}

func runChat(ctx context.Context, f clientFlags, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := resolveToken(ctx, f)
	if err != nil {
		return err
	}
	url, err := wsURL(f.server)
	if err != nil {
		return err
	}

	p := &printer{out: out, printed: make(map[string]bool)}
	s := session.New(session.Options{
		URL:      url,
		Token:    token,
		Room:     f.room,
		OnChange: p.onChange,
		Logger:   log.NewWithWriter(os.Stderr, f.logLevel, true),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx)
		cancel()
	}()

	fmt.Fprintf(out, "Joining %s on %s. Type messages and press Enter to send. Ctrl+C to exit.\n", f.room, f.server)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return <-runErr
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runErr
			}
			if _, err := s.Send(line); err != nil && !errors.Is(err, session.ErrEmptyBody) {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}
