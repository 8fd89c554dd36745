package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/spf13/cobra"
)

func newDialCmd(opts *globalOptions) *cobra.Command {
	var (
		audioOnly bool
		duration  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dial <exchange-id> <callee-id>",
		Short: "Call the other side of an exchange",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ended := watch(cmd.OutOrStdout(), s)
			snap, err := s.agent.Dial(ctx, domain.ExchangeID(args[0]), domain.UserID(args[1]), audioOnly)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "calling %s in %s\n", snap.PeerID, snap.RoomID)
			return converse(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), s, ended, duration)
		},
	}
	cmd.Flags().BoolVar(&audioOnly, "audio-only", false, "do not negotiate video")
	cmd.Flags().DurationVar(&duration, "duration", 0, "hang up after this long (0 waits for the other side)")
	return cmd
}

func newAnswerCmd(opts *globalOptions) *cobra.Command {
	var decline bool
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Wait for an incoming call and pick it up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			ringing := make(chan domain.CallSnapshot, 1)
			s.agent.OnStateChange(func(snap domain.CallSnapshot) {
				if snap.State == domain.StateIncoming {
					select {
					case ringing <- snap:
					default:
					}
				}
			})
			ended := watch(out, s)
			fmt.Fprintf(out, "waiting for calls as %s\n", s.self)

			var snap domain.CallSnapshot
			select {
			case snap = <-ringing:
			case <-ctx.Done():
				return nil
			}
			fmt.Fprintf(out, "incoming call from %s (%s)\n", snap.PeerID, snap.ExchangeID)

			if decline {
				return s.agent.Decline(ctx)
			}
			if err := s.agent.Accept(ctx); err != nil {
				return err
			}
			return converse(ctx, cmd.InOrStdin(), out, s, ended, 0)
		},
	}
	cmd.Flags().BoolVar(&decline, "decline", false, "decline the first incoming call")
	return cmd
}

// watch prints every state change and reports when a call ends.
func watch(out io.Writer, s *session) <-chan domain.CallSnapshot {
	ended := make(chan domain.CallSnapshot, 1)
	s.agent.OnStateChange(func(snap domain.CallSnapshot) {
		fmt.Fprintf(out, "[%s] %s\n", snap.RoomID, snap.State)
		if snap.State == domain.StateEnded {
			select {
			case ended <- snap:
			default:
			}
		}
	})
	return ended
}

// converse reads single-letter commands until the call ends: m toggles mute,
// v toggles video, q hangs up.
func converse(ctx context.Context, in io.Reader, out io.Writer, s *session, ended <-chan domain.CallSnapshot, limit time.Duration) error {
	done := make(chan struct{})
	defer close(done)
	lines := scanLines(in, done)

	var timeout <-chan time.Time
	if limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case snap := <-ended:
			fmt.Fprintf(out, "call ended: %s\n", snap.EndReason)
			return nil
		case <-ctx.Done():
			return hangUp(s)
		case <-timeout:
			return hangUp(s)
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep waiting for the call to end
				lines = nil
				continue
			}
			switch line {
			case "m":
				muted, err := s.agent.ToggleMute()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "muted: %t\n", muted)
			case "v":
				off, err := s.agent.ToggleVideo()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "video off: %t\n", off)
			case "q":
				return hangUp(s)
			}
		}
	}
}

// scanLines feeds trimmed input lines until in ends or done is closed. The
// channel is closed when the reader goroutine exits.
func scanLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case <-done:
				return
			default:
			}
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-done:
				return
			}
		}
	}()
	return lines
}

func hangUp(s *session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.agent.HangUp(ctx); err != nil && !errors.Is(err, domain.ErrNoActiveCall) {
		return err
	}
	return nil
}
