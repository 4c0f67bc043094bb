package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the tldw server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		status := app.Health.Check(ctx)
		out := cmd.OutOrStdout()
		if !status.Healthy {
			fmt.Fprintf(out, "%s: unreachable\n", app.Client.BaseURL())
			return fmt.Errorf("tldw server is not healthy")
		}
		fmt.Fprintf(out, "%s: ok\n", app.Client.BaseURL())
		if info, err := app.Client.ServerInfo(ctx); err == nil {
			keys := make([]string, 0, len(info))
			for k := range info {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s: %v\n", k, info[k])
			}
		}
		return nil
	},
}

var embeddingOnly bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the tldw server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		list, err := app.Models.Models(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tCAPABILITIES")
		for _, m := range list {
			if embeddingOnly && !m.IsEmbedding() {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Provider, strings.Join(m.Capabilities, ","))
		}
		return w.Flush()
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&embeddingOnly, "embedding", false, "only list embedding models")
}
