package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"axolotl/internal/store"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if !force {
				_, err := appCtx.Identity.LoadIdentity(passphrase)
				if !errors.Is(err, store.ErrNoIdentity) {
					return fmt.Errorf("identity already exists in %s (use --force to replace it)", appCtx.Config.Home)
				}
			}
			_, fp, err := appCtx.IDs.GenerateIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nFingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}
