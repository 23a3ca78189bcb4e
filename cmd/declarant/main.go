package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yourorg/declarant/internal/classify"
	"github.com/yourorg/declarant/internal/config"
	"github.com/yourorg/declarant/internal/export"
	"github.com/yourorg/declarant/internal/ingest"
	"github.com/yourorg/declarant/internal/pipeline"
	"github.com/yourorg/declarant/internal/server"
	"github.com/yourorg/declarant/internal/store"
	"github.com/yourorg/declarant/pkg/types"
)

const defaultConfigContent = `llm:
  provider: "openai"
  api_key: ""
  anthropic_api_key: ""
  base_url: "https://api.openai.com/v1"
  model: "gpt-4.1"
  vector_store_id: ""
  max_tokens: 2048
  temperature: 0.1

processing:
  chunk_size: 10
  high_confidence_threshold: 80
  medium_confidence_threshold: 40
  max_file_size_mb: 50
  max_rows: 1000

store:
  path: ""

server:
  host: "127.0.0.1"
  port: 8080

log:
  level: "info"
`

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "declarant",
		Short: "Customs tariff classification assistant",
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newInitCmd())
	root.AddCommand(newClassifyCmd(&cfgPath))
	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newListCmd(&cfgPath))
	root.AddCommand(newShowCmd(&cfgPath))
	root.AddCommand(newReviewCmd(&cfgPath))
	root.AddCommand(newExportCmd(&cfgPath))
	root.AddCommand(newDeleteCmd(&cfgPath))
	root.AddCommand(newStatsCmd(&cfgPath))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.declarant directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".declarant")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "declarant.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			fmt.Fprintln(cmd.OutOrStdout(), "please update llm.api_key in", cfgFile)
			return nil
		},
	}
}

func newClassifyCmd(cfgPath *string) *cobra.Command {
	var filePath, mappingJSON, nameColumn string
	cmd := &cobra.Command{Use: "classify", Short: "Classify products from a CSV or XLSX file", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.ValidateClassify(); err != nil {
			return err
		}
		logger := newLogger(cfg.Log.Level)

		table, err := ingest.ReadFile(filePath, ingest.Limits{
			MaxBytes: int64(cfg.Processing.MaxFileSizeMB) << 20,
			MaxRows:  cfg.Processing.MaxRows,
		})
		if err != nil {
			return err
		}

		mapping := ingest.Mapping{}
		if mappingJSON != "" {
			if err := json.Unmarshal([]byte(mappingJSON), &mapping); err != nil {
				return fmt.Errorf("parse --mapping: %w", err)
			}
		}
		if nameColumn != "" {
			mapping[ingest.RoleProductName] = nameColumn
		}
		if mapping[ingest.RoleProductName] == "" && len(table.Columns) > 0 {
			mapping[ingest.RoleProductName] = table.Columns[0]
			fmt.Fprintf(cmd.OutOrStdout(), "no mapping given, using %q as product name column\n", table.Columns[0])
		}

		client, err := classify.New(cfg.LLM, logger)
		if err != nil {
			return err
		}
		dbPath, err := cfg.DBPath()
		if err != nil {
			return err
		}
		st, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		proc := &pipeline.Processor{Store: st, Client: client, Config: cfg.Processing, Logger: logger}
		outcome, err := proc.Process(context.Background(), filepath.Base(filePath), table, mapping, func(processed, total int) {
			fmt.Fprintf(cmd.OutOrStdout(), "\rprocessed %d/%d", processed, total)
		})
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return err
		}

		sess := outcome.Session
		fmt.Fprintf(cmd.OutOrStdout(), "session %d completed: %d items, high %d, medium %d, low %d (%.1fs)\n",
			sess.ID, sess.ProcessedItems, sess.HighConfidence, sess.MediumConfidence, sess.LowConfidence, sess.ProcessingSeconds)
		fmt.Fprintf(cmd.OutOrStdout(), "review: declarant show --session %d\n", sess.ID)
		return nil
	}}
	cmd.Flags().StringVar(&filePath, "file", "", "CSV or XLSX file path")
	cmd.Flags().StringVar(&mappingJSON, "mapping", "", `column mapping as JSON, e.g. '{"product_name":"Товар"}'`)
	cmd.Flags().StringVar(&nameColumn, "name-column", "", "shortcut for the product name column")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newServeCmd(cfgPath *string) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Start the review UI and HTTP API", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		if host != "" {
			cfg.Server.Host = host
		}
		if port != 0 {
			cfg.Server.Port = port
		}
		logger := newLogger(cfg.Log.Level)

		var client classify.Classifier
		if err := cfg.ValidateClassify(); err == nil {
			client, err = classify.New(cfg.LLM, logger)
			if err != nil {
				return err
			}
		} else {
			logger.Warn("llm not configured, classification disabled", "reason", err)
		}

		dbPath, err := cfg.DBPath()
		if err != nil {
			return err
		}
		st, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		srv, err := server.New(cfg, st, client, logger)
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Info("server listening", "addr", "http://"+addr)
		return srv.ListenAndServe(addr)
	}}
	cmd.Flags().StringVar(&host, "host", "", "server host")
	cmd.Flags().IntVar(&port, "port", 0, "server port")
	return cmd
}

func newListCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{Use: "list", Short: "List processing sessions", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(*cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions(limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILE\tDATE\tITEMS\tHIGH\tMED\tLOW\tSTATUS")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				s.ID, s.Filename, s.UploadedAt.Format("2006-01-02 15:04"),
				s.TotalItems, s.HighConfidence, s.MediumConfidence, s.LowConfidence, s.Status)
		}
		return tw.Flush()
	}}
	cmd.Flags().IntVar(&limit, "limit", 0, "max sessions to show")
	return cmd
}

func newShowCmd(cfgPath *string) *cobra.Command {
	var session int64
	var minConfidence int
	var status, query string
	cmd := &cobra.Command{Use: "show", Short: "Show a session's classification results", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(*cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		sess, err := st.GetSession(session)
		if err != nil {
			return err
		}
		filter := store.ResultFilter{Query: query}
		if minConfidence > 0 {
			filter.MinConfidence = &minConfidence
		}
		if status != "" {
			us := types.UserStatus(status)
			if err := us.Validate(); err != nil {
				return err
			}
			filter.UserStatus = us
		}
		results, err := st.GetResults(session, filter)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "session %d  %s  %s  %d items\n\n", sess.ID, sess.Filename, sess.Status, sess.TotalItems)
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROW\tPRODUCT\tHS CODE\tCONF\tSTATUS")
		for _, r := range results {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d%%\t%s\n",
				r.ID, r.RowIndex+1, truncate(r.ProductName, 48), r.HSCode, r.Confidence, r.UserStatus)
		}
		return tw.Flush()
	}}
	cmd.Flags().Int64Var(&session, "session", 0, "session id")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "minimum confidence filter")
	cmd.Flags().StringVar(&status, "status", "", "user status filter")
	cmd.Flags().StringVar(&query, "query", "", "search in product name or code")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newReviewCmd(cfgPath *string) *cobra.Command {
	var result int64
	var status, notes string
	cmd := &cobra.Command{Use: "review", Short: "Set the review status of a result", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(*cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		us := types.UserStatus(status)
		if err := us.Validate(); err != nil {
			return err
		}
		if err := st.UpdateUserStatus(result, us, notes); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "result %d marked %s\n", result, us)
		return nil
	}}
	cmd.Flags().Int64Var(&result, "result", 0, "result id")
	cmd.Flags().StringVar(&status, "status", "", "pending, confirmed, needs_review or rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	_ = cmd.MarkFlagRequired("result")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newExportCmd(cfgPath *string) *cobra.Command {
	var session int64
	var format, out string
	cmd := &cobra.Command{Use: "export", Short: "Export a session's results to CSV or XLSX", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(*cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetSession(session); err != nil {
			return err
		}
		results, err := st.GetResults(session, store.ResultFilter{})
		if err != nil {
			return err
		}

		if out == "" {
			out = fmt.Sprintf("tnved_results_%d.%s", session, format)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		switch format {
		case "csv":
			err = export.WriteCSV(f, results)
		case "xlsx":
			err = export.WriteXLSX(f, results)
		default:
			return fmt.Errorf("unsupported format %q, use csv or xlsx", format)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d results to %s\n", len(results), out)
		return nil
	}}
	cmd.Flags().Int64Var(&session, "session", 0, "session id")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output file path")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newDeleteCmd(cfgPath *string) *cobra.Command {
	var session int64
	cmd := &cobra.Command{Use: "delete", Short: "Delete a session and its results", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(*cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetSession(session); err != nil {
			return err
		}
		if err := st.DeleteSession(session); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %d deleted\n", session)
		return nil
	}}
	cmd.Flags().Int64Var(&session, "session", 0, "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{Use: "stats", Short: "Show overall classification statistics", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(*cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Statistics()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sessions:        %d\n", stats.TotalSessions)
		fmt.Fprintf(out, "items processed: %d\n", stats.TotalItemsProcessed)
		fmt.Fprintf(out, "high confidence: %d\n", stats.TotalHighConfidence)
		fmt.Fprintf(out, "avg processing:  %.1fs\n", stats.AvgProcessingSeconds)
		if len(stats.UserActions) > 0 {
			fmt.Fprintln(out, "review statuses:")
			for _, us := range []types.UserStatus{types.StatusPending, types.StatusConfirmed, types.StatusNeedsReview, types.StatusRejected} {
				fmt.Fprintf(out, "  %-13s %d\n", us, stats.UserActions[us])
			}
		}
		return nil
	}}
}

func openStore(cfgPath string) (store.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(dbPath)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
