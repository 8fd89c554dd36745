package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <exchange-id>",
		Short: "List past calls of an exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := url.JoinPath(opts.server, "api", "exchanges", args[0], "calls")
			if err != nil {
				return err
			}
			endpoint += "?limit=" + strconv.Itoa(limit)

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+opts.token)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("history: %s", resp.Status)
			}

			var calls []domain.CallRecord
			if err := json.NewDecoder(resp.Body).Decode(&calls); err != nil {
				return fmt.Errorf("decode history: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tCALLER\tCALLEE\tSTATUS\tDURATION")
			for _, c := range calls {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					c.StartedAt.Local().Format(time.DateTime), c.CallerID, c.CalleeID, c.Status, c.Duration().Round(time.Second))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of calls")
	return cmd
}
