package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"relaychat/internal/app"
	"relaychat/internal/client"
	"relaychat/internal/config"
	"relaychat/internal/log"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relaychat",
		Short:        "Encrypted chat through a relaychat relay",
		SilenceUsage: true,
		RunE:         runChat,
	}
	config.ClientFlags(root.PersistentFlags())
	root.AddCommand(chatCmd(), sendCmd())
	return root
}

// connect loads configuration and joins the relay. The returned cleanup
// leaves the chat and closes the log.
func connect(ctx context.Context, cmd *cobra.Command) (*app.Wire, *log.Backend, func(), error) {
	cfg, err := config.LoadClient(cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	backend, err := log.New(cfg.Log.File, cfg.Log.Level, cfg.Log.Disable)
	if err != nil {
		return nil, nil, nil, err
	}
	w, err := app.NewWire(ctx, cfg, backend)
	if err != nil {
		backend.Close()
		if client.IsDuplicateUsername(err) {
			return nil, nil, nil, fmt.Errorf("username %q is already taken", cfg.Username)
		}
		return nil, nil, nil, err
	}
	cleanup := func() {
		w.Close()
		backend.Close()
	}
	return w, backend, cleanup, nil
}
