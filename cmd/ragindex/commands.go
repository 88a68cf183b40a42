package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codementor/ragindex/internal/api"
	"github.com/codementor/ragindex/internal/indexer"
	"github.com/codementor/ragindex/internal/retriever"
)

var (
	header = color.New(color.FgCyan, color.Bold)
	dim    = color.New(color.Faint)
	good   = color.New(color.FgGreen)
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if port > 0 {
					a.cfg.Server.Port = port
				}
				return api.NewServer(a.cfg, a.manager, a.provider, a.logger).Run(ctx)
			})
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func newIndexCmd(refresh bool) *cobra.Command {
	use, short := "index", "Index files and directories into the session"
	if refresh {
		use, short = "refresh", "Re-index files and directories, replacing what the session had for them"
	}

	return &cobra.Command{
		Use:   use + " <path>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				files, err := indexer.NewScanner(a.cfg.Indexer).ExpandPaths(args)
				if err != nil {
					return err
				}
				sess, err := a.session()
				if err != nil {
					return err
				}

				var n int
				if refresh {
					n, err = sess.RefreshFiles(ctx, files)
				} else {
					n, err = sess.IndexFiles(ctx, files)
				}
				if err != nil {
					return err
				}

				good.Printf("%d chunks from %d files indexed into %s (session %s)\n", n, len(files), a.manager.Collection(), sess.ID)
				return nil
			})
		},
	}
}

func newSearchCmd() *cobra.Command {
	var (
		topK  int
		paths []string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Exact nearest neighbour search within the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := a.session()
				if err != nil {
					return err
				}
				results, err := sess.GetChunks(ctx, strings.Join(args, " "), topK, paths)
				if err != nil {
					return err
				}
				printResults(results)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top", "k", 0, "number of results (default retrieval.k)")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "restrict to these indexed paths")
	return cmd
}

func newRelevantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relevant <query>",
		Short: "Diverse relevant chunks, capped per file and deduplicated",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := a.session()
				if err != nil {
					return err
				}
				results, err := sess.GetRelevantChunks(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printResults(results)
				return nil
			})
		},
	}
}

func newPromptCmd() *cobra.Command {
	var (
		systemPrompt string
		paths        []string
	)
	cmd := &cobra.Command{
		Use:   "prompt <query>",
		Short: "Print the retrieval-augmented prompt for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := a.session()
				if err != nil {
					return err
				}
				prompt, err := sess.BuildRAGPrompt(ctx, strings.Join(args, " "), systemPrompt, paths)
				if err != nil {
					return err
				}
				fmt.Println(prompt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt placed before the extracts")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "restrict to these indexed paths")
	return cmd
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List the paths indexed for the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sess, err := a.session()
				if err != nil {
					return err
				}
				paths, err := sess.ListPaths(ctx)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Println(p)
				}
				return nil
			})
		},
	}
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Empty the collection of the configured embedding model, for every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.Purge(ctx); err != nil {
					return err
				}
				good.Printf("collection purged, now %s\n", a.manager.Collection())
				return nil
			})
		},
	}
}

func printResults(results []retriever.RetrievalResult) {
	if len(results) == 0 {
		dim.Println("no results")
		return
	}
	for i, r := range results {
		header.Printf("[%d] %s ", i+1, r.Path())
		dim.Printf("(score %.3f)\n", r.Score)
		fmt.Println(r.Text)
		fmt.Println()
	}
}
