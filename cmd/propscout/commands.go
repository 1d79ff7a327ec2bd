package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/propscout/config"
	"github.com/c360studio/propscout/property"
)

func enrichCmd(g *globals) *cobra.Command {
	var acrisFull bool
	cmd := &cobra.Command{
		Use:   "enrich <address>",
		Short: "Build a property report for an address",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := strings.Join(args, " ")
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				report, err := app.engine.EnrichByAddress(ctx, address)
				if err != nil {
					return err
				}
				return g.printReport(cmd, report, acrisFull)
			})
		},
	}
	cmd.Flags().BoolVar(&acrisFull, "acris-full", false, "Include every ACRIS document instead of the latest five per class")
	return cmd
}

func bblCmd(g *globals) *cobra.Command {
	var acrisFull bool
	cmd := &cobra.Command{
		Use:   "bbl <bbl>",
		Short: "Build a property report for a borough-block-lot",
		Example: `  propscout bbl 1008350041
  propscout bbl 1-00835-0041`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				report, err := app.engine.EnrichByBBL(ctx, args[0])
				if err != nil {
					return err
				}
				return g.printReport(cmd, report, acrisFull)
			})
		},
	}
	cmd.Flags().BoolVar(&acrisFull, "acris-full", false, "Include every ACRIS document instead of the latest five per class")
	return cmd
}

func (g *globals) printReport(cmd *cobra.Command, report *property.Report, acrisFull bool) error {
	if !acrisFull && report.ACRIS != nil {
		view := *report
		view.ACRIS = report.ACRIS.Display(property.DefaultDisplayLimit)
		report = &view
	}
	if g.jsonOut {
		return printJSON(cmd.OutOrStdout(), report)
	}
	writeReport(cmd.OutOrStdout(), report)
	return nil
}

func autocompleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "autocomplete <partial address>",
		Short: "Suggest addresses for partial input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				suggestions, err := app.engine.Autocomplete(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(cmd.OutOrStdout(), suggestions)
				}
				for _, s := range suggestions {
					fmt.Fprintf(cmd.OutOrStdout(), "%-50s %s\n", s.Label, s.BBL)
				}
				return nil
			})
		},
	}
}

func rezoningsCmd(g *globals) *cobra.Command {
	var (
		radius int
		parcel string
	)
	cmd := &cobra.Command{
		Use:   "rezonings [<lat> <lng>]",
		Short: "List zoning map amendments near a point or lot",
		Args: func(cmd *cobra.Command, args []string) error {
			if parcel != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				var (
					out []property.Rezoning
					err error
				)
				if parcel != "" {
					out, err = app.engine.RezoningsNearBBL(ctx, parcel, radius)
				} else {
					lat, latErr := strconv.ParseFloat(args[0], 64)
					lng, lngErr := strconv.ParseFloat(args[1], 64)
					if latErr != nil || lngErr != nil {
						return fmt.Errorf("lat and lng must be numbers")
					}
					out, err = app.engine.NearbyRezonings(ctx, lat, lng, radius)
				}
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(cmd.OutOrStdout(), out)
				}
				writeRezonings(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&radius, "radius", 0, "Search radius in meters (default 500)")
	cmd.Flags().StringVar(&parcel, "bbl", "", "Search around this lot instead of a point")
	return cmd
}

func titleReportCmd(g *globals) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "title-report <address>",
		Short: "Download the PropertyScout title report PDF",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				report, err := app.engine.DownloadTitleReport(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				path := output
				if path == "" {
					path = report.Filename
				}
				if err := os.WriteFile(path, report.Data, 0o644); err != nil {
					return fmt.Errorf("write title report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", path, len(report.Data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: name suggested by the provider)")
	return cmd
}

func propertyScoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "propertyscout <address>",
		Short: "Fetch insights, sales, liens and mortgages from PropertyScout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				bundle, err := app.engine.AllPropertyScoutData(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), bundle)
			})
		},
	}
}

func usageCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show this month's API usage and cache savings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				summary, err := app.engine.UsageSummary(ctx)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				writeUsage(cmd.OutOrStdout(), summary, app.layer.Quota())
				return nil
			})
		},
	}
}

func cacheCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show entry counts and size by type",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					stats, err := app.engine.CacheStats(ctx)
					if err != nil {
						return err
					}
					if g.jsonOut {
						return printJSON(cmd.OutOrStdout(), stats)
					}
					writeStats(cmd.OutOrStdout(), stats)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear [type]",
			Short: "Remove cached entries of one type, or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				typ := ""
				if len(args) == 1 {
					typ = args[0]
				}
				return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					n, err := app.engine.ClearCache(ctx, typ)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

func apiKeyCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the PropertyScout API key",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key>",
			Short: "Save the API key in the cache store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					if err := app.engine.SetPropertyScoutAPIKey(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "API key saved")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the saved API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					if err := app.engine.ClearPropertyScoutAPIKey(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "API key removed")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether an API key is configured",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					if app.engine.HasPropertyScoutAPIKey(ctx) {
						fmt.Fprintln(cmd.OutOrStdout(), "configured")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "not configured")
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func initCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default user config if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.NewLoader(g.logger).EnsureUserConfig()
		},
	}
}
