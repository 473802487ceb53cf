package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type clientFlags struct {
	server   string
	room     string
	token    string
	username string
	password string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f clientFlags

	root := &cobra.Command{
		Use:           "wirechat-chat",
		Short:         "Terminal client for the wirechat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.server, "server", "http://localhost:8080", "relay base URL")
	pf.StringVar(&f.room, "room", "general", "room to join")
	pf.StringVar(&f.token, "token", "", "existing access token")
	pf.StringVar(&f.username, "user", "", "log in with this username (guest when empty)")
	pf.StringVar(&f.password, "password", "", "password for --user")
	pf.StringVar(&f.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newSmokeCmd(&f))
	return root
}
