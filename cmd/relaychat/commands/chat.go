package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relaychat/internal/app"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Join the relay and chat interactively",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, backend, cleanup, err := connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "joined as %s, relay key %s (/help for commands)\n", w.Client.Username(), w.Client.ServerFingerprint())

	a := app.New(w.Client, w.Transfers, out, backend.GetLogger("app"))
	if err := a.Run(ctx, cmd.InOrStdin()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
