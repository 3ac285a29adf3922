package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ScientiaCapital/sales-agent-sub004/config"
)

var providersCmd = &cobra.Command{
	Use:     "providers",
	Aliases: []string{"ls"},
	Short:   "List the providers in the catalog",
	Long: `Parses the provider catalog and prints one row per provider with its kind,
model, per-million-token prices and latency settings. No provider is contacted.`,
	Example: `  dispatcher providers --providers providers.example.yaml`,
	Args:    cobra.NoArgs,
	RunE:    runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	path := providersFile
	if path == "" {
		path = config.Load().ProvidersFile
	}

	catalog, err := config.LoadProviders(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tMODEL\tINPUT $/1M\tOUTPUT $/1M\tTIMEOUT\tTYPICAL LATENCY\tCREDENTIAL")
	for _, p := range catalog {
		credential := "-"
		switch {
		case p.APIKeyEnv != "" && p.APIKey != "":
			credential = p.APIKeyEnv
		case p.APIKeyEnv != "":
			credential = p.APIKeyEnv + " (unset)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\t%s\n",
			p.Name, p.Kind, p.Model,
			p.InputCostPerToken*1e6, p.OutputCostPerToken*1e6,
			p.Timeout, p.TypicalLatency, credential)
	}
	return w.Flush()
}
