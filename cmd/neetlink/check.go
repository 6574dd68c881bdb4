package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"neetlink/internal/solution"

	"github.com/spf13/cobra"
)

type checkOutput struct {
	Slug       string `json:"slug"`
	URL        string `json:"url"`
	Exists     bool   `json:"exists"`
	StatusCode int    `json:"status_code"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

func newCheckCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check <slug>...",
		Short: "Check whether solution pages exist, without a browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, slug := range args {
				if err := solution.ValidateSlug(slug); err != nil {
					return err
				}
			}

			checker := solution.NewChecker(a.logger, solution.OptionsFromConfig(a.cfg.Site, a.cfg.Probe))
			results := make([]checkOutput, 0, len(args))
			for _, slug := range args {
				res := checker.Probe(cmd.Context(), slug)
				out := checkOutput{
					Slug:       slug,
					URL:        checker.URLFor(slug),
					Exists:     res.Exists,
					StatusCode: res.StatusCode,
					LatencyMS:  res.Latency.Milliseconds(),
				}
				if res.Err != nil {
					out.Error = res.Err.Error()
				}
				results = append(results, out)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tSTATUS\tCODE\tURL")
			for _, r := range results {
				status := "missing"
				if r.Exists {
					status = "exists"
				} else if r.Error != "" {
					status = "error"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Slug, status, r.StatusCode, r.URL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}
