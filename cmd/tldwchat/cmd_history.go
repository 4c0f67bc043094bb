package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Desarso/tldwchat/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		list, err := app.Store.ListHistories()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMESSAGES\tSOURCE\tUPDATED\tTITLE")
		for _, h := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				h.HistoryID, h.MessageCount, h.MessageSource, h.UpdatedAt.Format("2006-01-02 15:04"), h.Title)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <history-id>",
	Short: "Print a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		h, err := app.Store.GetHistory(args[0])
		if err != nil {
			return err
		}
		rows, err := app.Store.FetchMessages(h.HistoryID, 0)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n\n", h.Title)
		for _, m := range rows {
			speaker := "You"
			if m.Role == models.RoleAssistant {
				speaker = m.Name
			}
			fmt.Fprintf(out, "%s:\n%s\n", speaker, renderMarkdown(m.Content))
			for _, src := range m.Sources {
				fmt.Fprintf(out, "  source: %s %s\n", src.Name, src.URL)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyShowCmd)
}
