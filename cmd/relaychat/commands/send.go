package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"relaychat/internal/domain"
)

// send [--to <user>] <message>: join, deliver one message and leave.
func sendCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message to everyone, or to --to privately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, _, cleanup, err := connect(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if to == "" {
				err = w.Client.SendPublic(args[0])
			} else {
				err = w.Client.SendPrivate(domain.Username(to), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient for a private message")
	return cmd
}
