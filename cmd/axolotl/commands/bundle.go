package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// bundle: generate prekeys, then publish to the directory or export JSON.
func bundleCmd() *cobra.Command {
	var (
		count  int
		out    string
		noGen  bool
		export bool
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Generate prekeys and publish your bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			ctx := cmd.Context()
			self := appCtx.Self()

			if !noGen {
				spk, pubs, err := appCtx.PreKeys.GenerateAndStorePreKeys(ctx, passphrase, count)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Generated signed prekey %d and %d one-time prekeys\n", spk, len(pubs))
			}

			if export || appCtx.Directory == nil {
				bundle, oneTime, err := appCtx.PreKeys.LoadPreKeyBundle(ctx, passphrase, self.Device)
				if err != nil {
					return err
				}
				// An exported bundle is used once, so it carries one prekey.
				if len(oneTime) > 0 {
					opk := oneTime[0]
					bundle.PreKey = &opk
				}
				w, err := createOutput(out)
				if err != nil {
					return err
				}
				defer w.Close()
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(bundle)
			}

			if self.Recipient == "" {
				return fmt.Errorf("your recipient id is required to publish (--as or self.recipient)")
			}
			if err := appCtx.PreKeys.PublishPreKeyBundle(ctx, passphrase, self); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published bundle for %s\n", self)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of one-time prekeys to generate")
	cmd.Flags().BoolVar(&noGen, "no-generate", false, "reuse the current prekeys")
	cmd.Flags().BoolVar(&export, "export", false, "write the bundle as JSON instead of publishing")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "bundle output file for --export")
	return cmd
}
