package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"neetlink/internal/browser"
	"neetlink/internal/companion"
	"neetlink/internal/solution"

	"github.com/spf13/cobra"
)

func newOpenCmd(a *app) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "open <problem-url|slug>",
		Short: "Open the solution for a problem in a new tab of a running Chrome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Browser.DebuggerURL == "" {
				return errors.New("open attaches to a running browser: set --debugger-url or browser.debugger_url")
			}
			tabURL, err := problemURL(a.cfg.Site.ProblemPrefix, args[0])
			if err != nil {
				return err
			}

			return a.withCompanion(cmd.Context(), func(ctx context.Context, c *companion.Companion, _ *browser.SessionManager) error {
				if verify {
					slug := solution.SlugFromMenuURL(tabURL)
					if res := c.Checker().Probe(ctx, slug); !res.Exists {
						if res.Err != nil {
							return fmt.Errorf("checking %s: %w", slug, res.Err)
						}
						return fmt.Errorf("no solution published for %s", slug)
					}
				}
				opened, err := c.OpenFromMenu(ctx, tabURL)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), opened)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check that the solution exists before opening it")
	return cmd
}

// problemURL accepts a problem page URL as is and turns a bare slug into one.
func problemURL(prefix, arg string) (string, error) {
	if strings.Contains(arg, "://") {
		return arg, nil
	}
	slug := strings.Trim(arg, "/")
	if err := solution.ValidateSlug(slug); err != nil {
		return "", err
	}
	if prefix == "" {
		prefix = solution.DefaultProblemPrefix
	}
	return prefix + slug + "/", nil
}
