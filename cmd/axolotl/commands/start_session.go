package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"axolotl/internal/domain"
)

// startSessionCmd runs X3DH against a peer device's prekey bundle and
// persists the new session for future messaging.
func startSessionCmd() *cobra.Command {
	var bundleFile string
	cmd := &cobra.Command{
		Use:   "start-session <recipient> [device]",
		Short: "Establish a secure session with a peer device",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			peer, err := peerArgs(args)
			if err != nil {
				return err
			}

			if bundleFile == "" {
				err = appCtx.Sessions.StartSession(cmd.Context(), passphrase, peer)
			} else {
				var bundle domain.PreKeyBundle
				bundle, err = readBundle(bundleFile)
				if err != nil {
					return err
				}
				err = appCtx.Sessions.ProcessBundle(cmd.Context(), passphrase, peer, bundle)
			}
			if err != nil {
				return fmt.Errorf("starting session with %s: %w", peer, err)
			}

			infos, err := appCtx.Sessions.Describe(cmd.Context(), peer.Recipient)
			if err != nil {
				return err
			}
			for _, info := range infos {
				if info.Address == peer {
					fmt.Fprintf(cmd.OutOrStdout(), "Session created with %s. Remote fingerprint: %s\n", peer, info.RemoteIdentity)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&bundleFile, "bundle", "b", "", "read the bundle from a file (- for stdin) instead of the directory")
	return cmd
}

func readBundle(name string) (domain.PreKeyBundle, error) {
	r, err := openInput(name)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	defer r.Close()
	var b domain.PreKeyBundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return domain.PreKeyBundle{}, fmt.Errorf("read bundle: %w", err)
	}
	return b, nil
}
