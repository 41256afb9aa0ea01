package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"axolotl/internal/domain"
)

// decrypt [file]: open one or more envelopes read as a JSON stream.
func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt [envelope-file]",
		Short: "Decrypt envelopes from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			r, err := openInput(name)
			if err != nil {
				return err
			}
			defer r.Close()

			dec := json.NewDecoder(r)
			for {
				var env domain.Envelope
				if err := dec.Decode(&env); errors.Is(err, io.EOF) {
					return nil
				} else if err != nil {
					return fmt.Errorf("read envelope: %w", err)
				}
				pt, err := appCtx.Messages.Decrypt(cmd.Context(), passphrase, env)
				if err != nil {
					return fmt.Errorf("decrypt from %s failed: %w", env.Sender, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", env.Sender, pt)
			}
		},
	}
}
