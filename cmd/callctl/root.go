package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Wyydra/learnloop/internal/adapter/driven/media/pion"
	"github.com/Wyydra/learnloop/internal/adapter/driven/signaling/wsclient"
	"github.com/Wyydra/learnloop/internal/core/callflow"
	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/logging"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server      string
	token       string
	name        string
	logLevel    string
	iceURLs     []string
	ringTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "callctl",
		Short:         "Place and answer LearnLoop calls from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(opts.logLevel, true)
			if opts.name == "" {
				opts.name = petname.Generate(2, "-")
			}
			if opts.token == "" {
				opts.token = opts.name
			}
		},
	}

	server := os.Getenv("LEARNLOOP_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.server, "server", server, "signaling server base URL")
	f.StringVar(&opts.token, "token", os.Getenv("LEARNLOOP_TOKEN"), "bearer token (defaults to --name)")
	f.StringVar(&opts.name, "name", "", "display name (default: a generated pet name)")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.StringSliceVar(&opts.iceURLs, "ice", []string{"stun:stun.l.google.com:19302"}, "ICE server URLs")
	f.DurationVar(&opts.ringTimeout, "ring-timeout", callflow.DefaultRingTimeout, "how long an incoming call rings")

	cmd.AddCommand(newDialCmd(opts), newAnswerCmd(opts), newHistoryCmd(opts))
	return cmd
}

// session is one signaling connection with its call agent.
type session struct {
	sig   *wsclient.Client
	agent *callflow.Agent
	self  domain.UserID
}

func connect(ctx context.Context, opts *globalOptions) (*session, error) {
	sig, err := wsclient.Dial(ctx, opts.server, opts.token)
	if err != nil {
		return nil, err
	}
	hello, err := sig.Welcome(ctx)
	if err != nil {
		sig.Close()
		return nil, fmt.Errorf("waiting for server greeting: %w", err)
	}

	peers, err := pion.NewPeerFactory(pion.ICEServers(opts.iceURLs, "", ""))
	if err != nil {
		sig.Close()
		return nil, err
	}
	agent := callflow.NewAgent(callflow.Config{
		Self:        hello.UserID,
		DisplayName: opts.name,
		RingTimeout: opts.ringTimeout,
	}, sig, pion.NewDevices(), peers)

	return &session{sig: sig, agent: agent, self: hello.UserID}, nil
}

func (s *session) Close() {
	s.agent.Close()
	s.sig.Close()
}
