package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/sessionize/internal/source"
)

func newFetchCmd() *cobra.Command {
	var (
		indexFile string
		dir       string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "fetch [urls...]",
		Short: "Download and unpack EDGAR log archives",
		Long:  "Downloads each URL, plus those listed one per line in --index, into --dir and extracts the logs from zip archives.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			uris := append([]string(nil), args...)
			if indexFile != "" {
				f, err := os.Open(indexFile)
				if err != nil {
					return fmt.Errorf("opening index: %w", err)
				}
				listed, err := source.ReadIndex(f)
				_ = f.Close()
				if err != nil {
					return err
				}
				uris = append(uris, listed...)
			}
			if len(uris) == 0 {
				return fmt.Errorf("nothing to fetch: pass URLs or --index")
			}

			opener := a.opener()
			g, ctx := errgroup.WithContext(a.ctx)
			g.SetLimit(max(workers, 1))

			var (
				mu    sync.Mutex
				paths = make([][]string, len(uris))
			)
			for i, uri := range uris {
				g.Go(func() error {
					got, err := opener.Fetch(ctx, uri, dir)
					if err != nil {
						return fmt.Errorf("fetching %s: %w", uri, err)
					}
					a.logger.Info("fetched", "uri", uri, "files", len(got))
					mu.Lock()
					paths[i] = got
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, p := range paths {
				for _, path := range p {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&indexFile, "index", "", "File listing archive URLs, one per line")
	cmd.Flags().StringVar(&dir, "dir", ".", "Download directory")
	cmd.Flags().IntVar(&workers, "workers", 2, "Concurrent downloads")

	return cmd
}
