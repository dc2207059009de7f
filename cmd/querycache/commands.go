package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sightserver/querycache/cache"
)

// contextFlags select the QueryContext a command operates under.
type contextFlags struct {
	spatial    bool
	intent     string
	includeSQL bool
}

func (c *contextFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&c.spatial, "spatial", true, "spatial queries enabled")
	cmd.Flags().StringVar(&c.intent, "intent", string(cache.IntentQuery), "query intent: query or summary")
	cmd.Flags().BoolVar(&c.includeSQL, "include-sql", false, "generated SQL included in results")
}

func (c *contextFlags) context() (cache.QueryContext, error) {
	return cache.QueryContext{
		EnableSpatial: c.spatial,
		Intent:        cache.Intent(c.intent),
		IncludeSQL:    c.includeSQL,
	}.Normalized()
}

func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q (want yaml or json)", format)
}

func newStatsCmd(f *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry count, size, hits and semantic index state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), f, func(a *app) error {
				st, err := a.manager.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if output != "table" {
					return printValue(cmd.OutOrStdout(), output, st)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "ENTRIES\tSIZE\tHITS\tOLDEST\tSEMANTIC\n")
				sem := "off"
				if st.Semantic.Enabled {
					sem = fmt.Sprintf("%s (%d vectors)", st.Semantic.Model, st.Semantic.Records)
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", st.Entries, st.TotalSizeBytes, st.TotalHits, st.OldestAge, sem)
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml, json or table")
	return cmd
}

func newLookupCmd(f *rootFlags) *cobra.Command {
	var (
		cf     contextFlags
		output string
		peek   bool
	)
	cmd := &cobra.Command{
		Use:   "lookup QUERY",
		Short: "Look up a query, exactly and then semantically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qc, err := cf.context()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), f, func(a *app) error {
				if peek {
					row, ok, err := a.manager.Peek(cmd.Context(), args[0], qc)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintf(cmd.OutOrStdout(), "miss %s\n", row.Key)
						return nil
					}
					return printValue(cmd.OutOrStdout(), output, row)
				}
				res, ok, err := a.manager.Get(cmd.Context(), args[0], qc)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "miss")
					return nil
				}
				return printValue(cmd.OutOrStdout(), output, map[string]any{
					"key":           res.Key,
					"kind":          res.Kind.String(),
					"similarity":    res.Similarity,
					"matched_query": res.MatchedQuery,
					"hit_count":     res.HitCount,
					"created_at":    res.CreatedAt,
					"payload":       string(res.Payload),
				})
			})
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	cmd.Flags().BoolVar(&peek, "peek", false, "show the stored row without recording a hit or matching semantically")
	return cmd
}

func newPutCmd(f *rootFlags) *cobra.Command {
	var cf contextFlags
	cmd := &cobra.Command{
		Use:   "put QUERY PAYLOAD_JSON",
		Short: "Store a JSON payload for a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qc, err := cf.context()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), f, func(a *app) error {
				if err := a.manager.Set(cmd.Context(), args[0], qc, json.RawMessage(args[1])); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stored")
				return nil
			})
		},
	}
	cf.bind(cmd)
	return cmd
}

func newSimilarCmd(f *rootFlags) *cobra.Command {
	var (
		cf    contextFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "similar QUERY",
		Short: "List the cached queries closest to QUERY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qc, err := cf.context()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), f, func(a *app) error {
				matches, err := a.manager.Similar(cmd.Context(), args[0], qc, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SIMILARITY\tQUERY")
				for _, m := range matches {
					fmt.Fprintf(w, "%.4f\t%s\n", m.Similarity, m.QueryText)
				}
				return w.Flush()
			})
		},
	}
	cf.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum matches")
	return cmd
}

func newInvalidateCmd(f *rootFlags) *cobra.Command {
	var cf contextFlags
	cmd := &cobra.Command{
		Use:   "invalidate QUERY",
		Short: "Remove the entry for one query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qc, err := cf.context()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), f, func(a *app) error {
				removed, err := a.manager.Invalidate(cmd.Context(), args[0], qc)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintln(cmd.OutOrStdout(), "removed 1 entry")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no entry")
				}
				return nil
			})
		},
	}
	cf.bind(cmd)
	return cmd
}

func newClearCmd(f *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the cache without --yes")
			}
			return withApp(cmd.Context(), f, func(a *app) error {
				n, err := a.manager.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s\n", n, plural(n, "entry", "entries"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

func newSweepCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired entries and enforce capacity bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), f, func(a *app) error {
				n, err := a.manager.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %d %s\n", n, plural(n, "entry", "entries"))
				return nil
			})
		},
	}
}

func newScrubCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scrub",
		Short: "Delete entries whose query text is a bare hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), f, func(a *app) error {
				n, err := a.manager.Scrub(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scrubbed %d malformed %s\n", n, plural(n, "entry", "entries"))
				return nil
			})
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
