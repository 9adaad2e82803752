package cli

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/sca/internal/embedder"
	"github.com/dshills/sca/internal/jobs"
	"github.com/dshills/sca/internal/pipeline"
	"github.com/dshills/sca/internal/search"
	"github.com/dshills/sca/pkg/types"
)

func (c *CLI) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the .context state directory for a codebase",
		Run: func(cmd *cobra.Command, args []string) {
			root, envErr := c.codebaseRoot()
			if envErr != nil {
				c.fail(envErr)
				return
			}

			app, envErr := newApp(root, c.logger)
			if envErr != nil {
				c.fail(envErr)
				return
			}
			defer app.close()

			if envErr := app.layout.EnsureStateDir(); envErr != nil {
				c.fail(envErr)
				return
			}
			manifest, envErr := app.layout.WriteManifest()
			if envErr != nil {
				c.fail(envErr)
				return
			}

			data := map[string]any{
				"codebaseId": manifest.CodebaseID,
				"collection": app.collection(),
				"stateDir":   app.layout.StateDir(),
			}
			_ = c.printer.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "initialized %s (%s)\n", app.layout.StateDir(), manifest.CodebaseID)
			})
		},
	}
}

func (c *CLI) indexCmd() *cobra.Command {
	var force bool
	var background bool
	var jobID string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the codebase into the local vector store",
		Run: func(cmd *cobra.Command, args []string) {
			c.runIndexing(cmd, "index", force, background, jobID)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "drop the collection and reindex from scratch")
	cmd.Flags().BoolVar(&background, "background", false, "run as a background job")
	cmd.Flags().StringVar(&jobID, "job-id", "", "")
	_ = cmd.Flags().MarkHidden("job-id")
	return cmd
}

func (c *CLI) reindexCmd() *cobra.Command {
	var background bool
	var jobID string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Reindex only files changed since the last run",
		Run: func(cmd *cobra.Command, args []string) {
			c.runIndexing(cmd, "reindex", false, background, jobID)
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "run as a background job")
	cmd.Flags().StringVar(&jobID, "job-id", "", "")
	_ = cmd.Flags().MarkHidden("job-id")
	return cmd
}

// runIndexing drives index/reindex in the foreground, as a spawned
// background job, or as the job worker itself (hidden --job-id).
func (c *CLI) runIndexing(cmd *cobra.Command, command string, force, background bool, jobID string) {
	root, envErr := c.codebaseRoot()
	if envErr != nil {
		c.fail(envErr)
		return
	}

	app, envErr := newApp(root, c.logger)
	if envErr != nil {
		c.fail(envErr)
		return
	}
	defer app.close()

	if background {
		c.spawnBackground(app, command, force)
		return
	}

	rc, stop := c.requestContext(cmd)
	defer stop()
	if timeout := app.timeout(); timeout > 0 {
		rc = rc.WithTimeout(timeout)
	}

	var manager *jobs.Manager
	if jobID != "" {
		manager = app.jobs
		if envErr := manager.MarkRunning(jobID, os.Getpid()); envErr != nil {
			c.fail(envErr)
			return
		}
		manager.WatchCancel(rc, jobID, 500*time.Millisecond)
	}

	opts := app.pipelineOptions()
	opts.ForceReindex = force
	opts.OnProgress = c.progressPrinter()

	var data any
	if command == "reindex" {
		result, env := pipeline.Reindex(rc, app.pipelineDeps(), opts)
		envErr, data = env, result
	} else {
		result, env := pipeline.Run(rc, app.pipelineDeps(), opts)
		envErr, data = env, result
	}

	if manager != nil {
		if envErr != nil {
			_ = manager.MarkFailed(jobID, envErr)
		} else {
			_ = manager.MarkCompleted(jobID, data)
		}
	}
	if envErr != nil {
		c.fail(envErr)
		return
	}

	_ = c.printer.Success(data, func(w io.Writer) {
		switch result := data.(type) {
		case pipeline.Result:
			fmt.Fprintf(w, "indexed %d files, %d chunks (%s)\n",
				result.IndexedFiles, result.TotalChunks, result.Status)
		case pipeline.ReindexResult:
			fmt.Fprintf(w, "reindexed: %d added, %d modified, %d removed\n",
				result.Added, result.Modified, result.Removed)
		}
	})
}

// spawnBackground creates a job record and re-executes the binary as a
// detached worker with the hidden --job-id flag.
func (c *CLI) spawnBackground(app *app, command string, force bool) {
	if envErr := app.layout.EnsureStateDir(); envErr != nil {
		c.fail(envErr)
		return
	}

	job, envErr := app.jobs.Create(command)
	if envErr != nil {
		c.fail(envErr)
		return
	}

	exe, err := os.Executable()
	if err != nil {
		c.fail(types.AsEnvelope(err))
		return
	}

	args := []string{command, "--codebase", app.layout.CodebaseRoot(), "--job-id", job.ID, "--output", "ndjson"}
	if force {
		args = append(args, "--force")
	}

	worker := exec.Command(exe, args...)
	logPath := filepath.Join(app.layout.JobsDir(), job.ID+".log")
	if logFile, err := os.Create(logPath); err == nil {
		worker.Stdout = logFile
		worker.Stderr = logFile
	}
	if err := worker.Start(); err != nil {
		c.fail(types.AsEnvelope(err))
		return
	}

	data := map[string]any{"jobId": job.ID, "state": job.State}
	_ = c.printer.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "started background %s job %s\n", command, job.ID)
	})
}

func (c *CLI) searchCmd() *cobra.Command {
	var query string
	var topK int
	var threshold float64
	var filterExpr string
	var includeContent bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the indexed codebase with a natural-language query",
		Run: func(cmd *cobra.Command, args []string) {
			root, envErr := c.codebaseRoot()
			if envErr != nil {
				c.fail(envErr)
				return
			}

			app, envErr := newApp(root, c.logger)
			if envErr != nil {
				c.fail(envErr)
				return
			}
			defer app.close()

			rc, stop := c.requestContext(cmd)
			defer stop()
			if timeout := app.timeout(); timeout > 0 {
				rc = rc.WithTimeout(timeout)
			}

			req := search.Request{
				Query:          query,
				TopK:           topK,
				FilterExpr:     filterExpr,
				IncludeContent: includeContent,
			}
			if cmd.Flags().Changed("threshold") {
				value := float32(threshold)
				req.Threshold = &value
			}

			searcher := search.New(app.embedder, app.store)
			resp, envErr := searcher.Search(rc, app.collection(), req)
			if envErr != nil {
				c.fail(envErr)
				return
			}

			_ = c.printer.Success(resp.Results, func(w io.Writer) {
				if len(resp.Results) == 0 {
					fmt.Fprintln(w, "no results")
					return
				}
				for _, result := range resp.Results {
					fmt.Fprintf(w, "%.4f  %s:%d-%d  [%s]\n",
						result.Score, result.RelativePath, result.StartLine, result.EndLine, result.Language)
					if includeContent && result.Content != "" {
						fmt.Fprintln(w, result.Content)
					}
				}
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "natural-language query (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", search.DefaultTopK, "maximum number of results (1-50)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity score (0-1)")
	cmd.Flags().StringVar(&filterExpr, "filter-expr", "", "filter expression, e.g. language == 'rust'")
	cmd.Flags().BoolVar(&includeContent, "include-content", false, "include chunk content in results")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func (c *CLI) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the collection and change-detection state",
		Run: func(cmd *cobra.Command, args []string) {
			root, envErr := c.codebaseRoot()
			if envErr != nil {
				c.fail(envErr)
				return
			}

			app, envErr := newApp(root, c.logger)
			if envErr != nil {
				c.fail(envErr)
				return
			}
			defer app.close()

			rc, stop := c.requestContext(cmd)
			defer stop()

			collection := app.collection()
			if envErr := app.store.Clear(rc, collection); envErr != nil {
				c.fail(envErr)
				return
			}
			if envErr := app.sync.DeleteSnapshot(rc, app.layout.CodebaseRoot()); envErr != nil {
				c.fail(envErr)
				return
			}

			data := map[string]any{"collection": collection, "cleared": true}
			_ = c.printer.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "cleared collection %s\n", collection)
			})
		},
	}
}

func (c *CLI) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status for the codebase",
		Run: func(cmd *cobra.Command, args []string) {
			root, envErr := c.codebaseRoot()
			if envErr != nil {
				c.fail(envErr)
				return
			}

			app, envErr := newApp(root, c.logger)
			if envErr != nil {
				c.fail(envErr)
				return
			}
			defer app.close()

			rc, stop := c.requestContext(cmd)
			defer stop()

			collection := app.collection()
			indexed, envErr := app.store.HasCollection(rc, collection)
			if envErr != nil {
				c.fail(envErr)
				return
			}

			count := 0
			if indexed {
				count, envErr = app.store.Count(rc, collection)
				if envErr != nil {
					c.fail(envErr)
					return
				}
			}

			rootHash := ""
			if snapshot, env := app.sync.LoadSnapshot(rc, app.layout.CodebaseRoot()); env == nil && snapshot != nil {
				rootHash = snapshot.RootHash()
			}

			data := map[string]any{
				"codebaseId": types.DeriveCodebaseID(app.layout.CodebaseRoot()),
				"collection": collection,
				"indexed":    indexed,
				"vectors":    count,
				"rootHash":   rootHash,
			}
			_ = c.printer.Success(data, func(w io.Writer) {
				if !indexed {
					fmt.Fprintln(w, "not indexed")
					return
				}
				fmt.Fprintf(w, "collection %s: %d vectors\n", collection, count)
			})
		},
	}
}

func (c *CLI) jobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control background jobs",
	}

	status := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the status of one or all background jobs",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			root, envErr := c.codebaseRoot()
			if envErr != nil {
				c.fail(envErr)
				return
			}
			app, envErr := newApp(root, c.logger)
			if envErr != nil {
				c.fail(envErr)
				return
			}
			defer app.close()

			if len(args) == 1 {
				job, envErr := app.jobs.Get(args[0])
				if envErr != nil {
					c.fail(envErr)
					return
				}
				_ = c.printer.Success(job, func(w io.Writer) {
					fmt.Fprintf(w, "%s  %s  %s\n", job.ID, job.Command, job.State)
				})
				return
			}

			list, envErr := app.jobs.List()
			if envErr != nil {
				c.fail(envErr)
				return
			}
			_ = c.printer.Success(list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(w, "no jobs")
					return
				}
				for _, job := range list {
					fmt.Fprintf(w, "%s  %s  %s\n", job.ID, job.Command, job.State)
				}
			})
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a background job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			root, envErr := c.codebaseRoot()
			if envErr != nil {
				c.fail(envErr)
				return
			}
			app, envErr := newApp(root, c.logger)
			if envErr != nil {
				c.fail(envErr)
				return
			}
			defer app.close()

			if envErr := app.jobs.RequestCancel(args[0]); envErr != nil {
				c.fail(envErr)
				return
			}
			data := map[string]any{"jobId": args[0], "cancelRequested": true}
			_ = c.printer.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "cancel requested for %s\n", args[0])
			})
		},
	}

	jobsCmd.AddCommand(status, cancel)
	return jobsCmd
}

func (c *CLI) configCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	runCheck := func(cmd *cobra.Command, show bool) {
		root, envErr := c.codebaseRoot()
		if envErr != nil {
			c.fail(envErr)
			return
		}

		app, envErr := newApp(root, c.logger)
		if envErr != nil {
			c.fail(envErr)
			return
		}
		defer app.close()

		if show {
			_ = c.printer.Success(app.cfg, func(w io.Writer) {
				fmt.Fprintf(w, "config: %s\n", app.layout.ConfigPath())
				fmt.Fprintf(w, "  embedding: provider=%s dimension=%d batchSize=%d\n",
					app.cfg.Embedding.Provider, app.cfg.Embedding.Dimension, app.cfg.Embedding.BatchSize)
				fmt.Fprintf(w, "  vectorDb: provider=%s indexMode=%s\n",
					app.cfg.VectorDB.Provider, app.cfg.VectorDB.IndexMode)
			})
			return
		}
		data := map[string]any{"valid": true, "path": app.layout.ConfigPath()}
		_ = c.printer.Success(data, func(w io.Writer) {
			fmt.Fprintln(w, "config ok")
		})
	}

	for _, sub := range []struct {
		use  string
		show bool
	}{{"check", false}, {"show", true}, {"validate", false}} {
		configCmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.use + " the effective configuration",
			Run: func(cmd *cobra.Command, args []string) {
				runCheck(cmd, sub.show)
			},
		})
	}
	return configCmd
}

func (c *CLI) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show version and provider information",
		Run: func(cmd *cobra.Command, args []string) {
			data := map[string]any{
				"version":           Version,
				"embeddingProvider": embedder.ProviderLocal,
				"vectorDbProvider":  "local",
				"sqliteBuildMode":   embedder.BuildMode,
			}
			_ = c.printer.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "sca %s (sqlite: %s)\n", Version, embedder.BuildMode)
			})
		},
	}
}
