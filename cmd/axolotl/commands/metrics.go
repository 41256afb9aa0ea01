package commands

import (
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// metrics: print the registry in the Prometheus text format. Counters only
// cover this process.
func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the collected metrics in Prometheus text format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpMetrics(cmd)
		},
	}
}

func dumpMetrics(cmd *cobra.Command) error {
	families, err := appCtx.Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(cmd.OutOrStdout(), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
