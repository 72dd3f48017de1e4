package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/server"
)

type opener func(cmd *cobra.Command) (*app, error)

func newIngestCmd(open opener) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Load, chunk, embed and index policy documents",
		Long: `Ingests PDF, text and Markdown files. Directories are walked recursively
and unsupported files inside them are skipped. With --mode rebuild the
collection is dropped before the first file; later files append.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ingestMode, ok := models.ParseIngestMode(mode)
			if !ok {
				return fmt.Errorf("invalid --mode %q (append or rebuild)", mode)
			}

			files, skipped, err := collectFiles(args)
			if err != nil {
				return err
			}
			for _, path := range skipped {
				color.Yellow("Skipping unsupported file %s", path)
			}
			if len(files) == 0 {
				return fmt.Errorf("no supported documents found")
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			color.Blue("\nIngesting %d documents into %s\n", len(files), a.engine.Config().Collection)
			bar := getProgressBar(len(files), "Ingesting documents...")

			var total models.IngestSummary
			for i, path := range files {
				fileMode := models.IngestAppend
				if i == 0 {
					fileMode = ingestMode
				}

				summary, err := a.engine.Ingest(cmd.Context(), path, fileMode)
				if err != nil {
					_ = bar.Finish()
					return fmt.Errorf("failed to ingest %s: %w", path, err)
				}
				total.Pages += summary.Pages
				total.Chunks += summary.Chunks
				total.Vectors += summary.Vectors
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			color.Green("\n✓ Ingested %d files: %d pages, %d chunks, %d vectors\n",
				len(files), total.Pages, total.Chunks, total.Vectors)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.IngestAppend), "append or rebuild")
	return cmd
}

// collectFiles expands directories. Unsupported files found while walking are
// returned as skipped; an unsupported file named explicitly is an error.
func collectFiles(args []string) (files, skipped []string, err error) {
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, nil, err
		}

		if !info.IsDir() {
			if _, ok := models.FileTypeFromPath(arg); !ok {
				return nil, nil, fmt.Errorf("%w: %s", types.ErrUnsupportedFileType, arg)
			}
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if _, ok := models.FileTypeFromPath(path); ok {
				files = append(files, path)
			} else {
				skipped = append(skipped, path)
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return files, skipped, nil
}

func newAskCmd(open opener) *cobra.Command {
	var (
		k      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			answer, err := a.engine.Ask(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), answer)
			}
			printAnswer(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func newSearchCmd(open opener) *cobra.Command {
	var (
		k      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the chunks retrieved for a query without generating an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			hits, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if asJSON {
				if hits == nil {
					hits = []models.SearchHit{}
				}
				return writeJSON(cmd.OutOrStdout(), hits)
			}
			printHits(cmd.OutOrStdout(), hits)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func newEmailCmd(open opener) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "email <request>",
		Short: "Draft an HR email grounded in policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			email, err := a.engine.ComposeEmail(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n%s\n\n", email.Email)
			printSources(out, email.Sources)
			confidenceColor(email.Confidence).Fprintf(out, "Confidence: %.2f\n", email.Confidence)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (0 uses the configured default)")
	return cmd
}

func newAnalyticsCmd(open opener) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Summarise the query log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.engine.Analytics(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printAnalytics(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output analytics as JSON")
	return cmd
}

func newChunksCmd(open opener) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "chunks <file>",
		Short: "List the recorded chunks of an ingested file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			file := filepath.Base(args[0])
			records, err := a.engine.ChunksBySource(cmd.Context(), file)
			if err != nil {
				return err
			}
			if asJSON {
				if records == nil {
					records = []models.ChunkRecord{}
				}
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printChunks(cmd.OutOrStdout(), file, records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output chunks as JSON")
	return cmd
}

func newServeCmd(open opener) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			config := server.Config{
				Addr:           a.config.Server.Addr,
				UploadDir:      a.config.Server.UploadDir,
				MaxUploadBytes: a.config.Server.MaxUploadBytes,
			}
			if addr != "" {
				config.Addr = addr
			}

			srv, err := server.New(a.engine, a.log, config)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newChatCmd(open opener) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			color.Cyan("\nChat with the HR policy knowledge base (type 'exit' to quit)")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			userPrompt := color.New(color.FgGreen).PrintfFunc()

			for {
				userPrompt("\nYou: ")
				if !scanner.Scan() {
					break
				}

				question := strings.TrimSpace(scanner.Text())
				if question == "" {
					continue
				}
				if strings.ToLower(question) == "exit" {
					break
				}

				spinner := getSpinner(" Searching policies...")
				answer, err := a.engine.Ask(cmd.Context(), question, k)
				_ = spinner.Finish()

				if err != nil {
					color.Red("Error: %v\n", err)
					if cmd.Context().Err() != nil {
						return nil
					}
					continue
				}
				printAnswer(cmd.OutOrStdout(), answer)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (0 uses the configured default)")
	return cmd
}
