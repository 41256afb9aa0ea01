package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"axolotl/internal/domain"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <recipient>",
		Short: "Describe the stored sessions with a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := appCtx.Sessions.Describe(cmd.Context(), domain.RecipientID(args[0]))
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sessions with %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tACTIVE\tPENDING\tSENT\tRECEIVED\tSKIPPED\tARCHIVED\tFINGERPRINT")
			for _, s := range infos {
				fmt.Fprintf(tw, "%s\t%t\t%t\t%d\t%d\t%d\t%d\t%s\n",
					s.Address, s.Active, s.Pending, s.SendingIndex, s.ReceivingIndex,
					s.SkippedKeys, s.PreviousStates, s.RemoteIdentity)
			}
			return tw.Flush()
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <recipient>",
		Short: "Delete every session with a recipient and forget its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := domain.RecipientID(args[0])
			if err := appCtx.Sessions.Reset(cmd.Context(), r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset sessions with %s\n", r)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <recipient> [device]",
		Short: "Delete the session with one device",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := peerArgs(args)
			if err != nil {
				return err
			}
			if err := appCtx.Sessions.DeleteDevice(cmd.Context(), peer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session with %s\n", peer)
			return nil
		},
	}
}
