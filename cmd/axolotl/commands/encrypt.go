package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// encrypt <recipient> [device]: seal a message into envelope JSON.
func encryptCmd() *cobra.Command {
	var message, out string
	cmd := &cobra.Command{
		Use:   "encrypt <recipient> [device]",
		Short: "Encrypt a message for a peer device",
		Long:  "Encrypt --message, or stdin when it is not set, and write the envelope as JSON.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := peerArgs(args)
			if err != nil {
				return err
			}
			if appCtx.Self().Recipient == "" {
				return fmt.Errorf("your recipient id is required (--as or self.recipient)")
			}

			plaintext := []byte(message)
			if !cmd.Flags().Changed("message") {
				if plaintext, err = io.ReadAll(os.Stdin); err != nil {
					return err
				}
			}

			env, err := appCtx.Messages.Encrypt(cmd.Context(), peer, plaintext)
			if err != nil {
				return err
			}
			w, err := createOutput(out)
			if err != nil {
				return err
			}
			defer w.Close()
			return json.NewEncoder(w).Encode(env)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "envelope output file")
	return cmd
}
