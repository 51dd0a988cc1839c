package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/emotions-bot/dialog"
	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/emotion/provider"
	"github.com/theimaginaryfoundation/emotions-bot/internal/httpapi"
	"github.com/theimaginaryfoundation/emotions-bot/internal/logger"
	"github.com/theimaginaryfoundation/emotions-bot/internal/telegram"
	"github.com/theimaginaryfoundation/emotions-bot/supervision"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliState carries the raw flag values shared by every subcommand.
type cliState struct {
	configPath string
	flags      Config
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	st := &cliState{flags: defaultConfig()}

	rootCmd := &cobra.Command{
		Use:   "emotions-bot",
		Short: "Conversational emotion classifier with user supervision",
		Long: `emotions-bot analyzes the emotions expressed in a sentence, shows the most
probable ones and asks the user to confirm or correct them. Every answered
episode is appended to a supervision file for later fine-tuning.`,
		SilenceUsage: true,
	}

	st.bindFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCmd(st),
		newAnalyzeCmd(st),
		newChatCmd(st),
		newStatsCmd(st),
		newExportCmd(st),
		newVersionCmd(st),
	)
	return rootCmd
}

// bindFlags registers the persistent flags shared by every subcommand.
func (st *cliState) bindFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&st.configPath, "config", "", "YAML config file")
	pf.BoolVar(&st.jsonOut, "json", false, "Output as JSON")
	pf.StringVar(&st.flags.Model, "model", st.flags.Model, "Classifier model")
	pf.BoolVar(&st.flags.StructuredOutput, "structured-output", false, "Attach a strict JSON schema to classifier calls")
	pf.Int64Var(&st.flags.MaxOutputTokens, "max-output-tokens", 0, "Max classifier output tokens (0 = provider default)")
	pf.Float64Var(&st.flags.Threshold, "threshold", st.flags.Threshold, "Minimum confidence for a prediction to be shown")
	pf.StringSliceVar(&st.flags.Labels, "labels", st.flags.Labels, "Supported emotion labels")
	pf.StringVar(&st.flags.SupervisionPath, "supervision-path", st.flags.SupervisionPath, "Supervision CSV file")
	pf.StringVar(&st.flags.SQLitePath, "sqlite-path", "", "Optional SQLite mirror of the supervision log")
	pf.IntVar(&st.flags.Concurrency, "concurrency", st.flags.Concurrency, "Max updates processed in parallel")
	pf.IntVar(&st.flags.PollTimeout, "poll-timeout", st.flags.PollTimeout, "Telegram long-poll timeout in seconds")
	pf.StringVar(&st.flags.HTTPAddr, "http-addr", "", "Serve the HTTP API on this address (empty = disabled)")
	pf.Int64Var(&st.flags.AdminChatID, "admin-chat-id", 0, "Telegram chat receiving operator alerts")
	pf.StringVar(&st.flags.LogMode, "log-mode", st.flags.LogMode, "dev or prod")
}

// resolveConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func (st *cliState) resolveConfig(cmd *cobra.Command, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()
	if st.configPath != "" {
		if err := loadConfigFile(&cfg, st.configPath); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	applyFlags(&cfg, cmd.Flags(), st.flags)
	cfg.Labels = normalizeLabels(cfg.Labels)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newServeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot (and the HTTP API when --http-addr is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.resolveConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			lg, err := logger.New(cfg.LogMode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer lg.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			classifier, err := buildClassifier(cfg)
			if err != nil {
				return err
			}
			log, closeLog, err := buildSupervisionLog(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			api, err := tgbotapi.NewBotAPI(cfg.BotToken)
			if err != nil {
				return fmt.Errorf("telegram login: %w", err)
			}
			lg.Info("telegram authorized", "bot", api.Self.UserName)

			engine, err := dialog.NewEngine(dialog.Config{
				Classifier: classifier,
				Log:        log,
				Logger:     lg,
				Threshold:  cfg.Threshold,
				Labels:     cfg.Labels,
				Alerter:    telegram.AdminAlerter{API: api, ChatID: cfg.AdminChatID},
			})
			if err != nil {
				return err
			}
			bot, err := telegram.NewBot(api, engine, lg, telegram.Options{
				Concurrency: cfg.Concurrency,
				PollTimeout: cfg.PollTimeout,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return bot.Run(gctx) })
			if cfg.HTTPAddr != "" {
				router, err := httpapi.NewRouter(httpapi.RouterConfig{
					Classifier: classifier,
					Threshold:  cfg.Threshold,
					Logger:     lg,
					Stats:      func() (supervision.Stats, error) { return supervision.ReadStats(cfg.SupervisionPath) },
				})
				if err != nil {
					return err
				}
				g.Go(func() error { return httpapi.Serve(gctx, cfg.HTTPAddr, router, lg) })
			}
			return g.Wait()
		},
	}
}

func newAnalyzeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <text>",
		Short: "Classify one sentence and print the recognized emotions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.resolveConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			classifier, err := buildClassifier(cfg)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), classifier, cfg.Threshold, strings.Join(args, " "), st.jsonOut, cmd.OutOrStdout())
		},
	}
}

func runAnalyze(ctx context.Context, c emotion.Classifier, threshold float64, text string, jsonOut bool, out io.Writer) error {
	ranking, err := c.Classify(ctx, text)
	if err != nil {
		return err
	}
	ranking = emotion.Rank(ranking)
	filtered := emotion.Filter(ranking, threshold)
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(httpapi.AnalyzeResponse{Ranking: ranking, Filtered: filtered, Summary: emotion.Summarize(filtered)})
	}
	_, err = io.WriteString(out, emotion.Summarize(filtered))
	return err
}

func newChatCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal (/command, #choice or plain text)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.resolveConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			lg, err := logger.New(cfg.LogMode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer lg.Sync()

			classifier, err := buildClassifier(cfg)
			if err != nil {
				return err
			}
			log, closeLog, err := buildSupervisionLog(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			engine, err := dialog.NewEngine(dialog.Config{
				Classifier: classifier,
				Log:        log,
				Logger:     lg,
				Threshold:  cfg.Threshold,
				Labels:     cfg.Labels,
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, engine, cmd.InOrStdin(), cmd.OutOrStdout(), localSender())
		},
	}
}

func newStatsCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the supervision file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.resolveConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			stats, err := supervision.ReadStats(cfg.SupervisionPath)
			if err != nil {
				return err
			}
			return writeStats(cmd.OutOrStdout(), stats, st.jsonOut)
		},
	}
}

func writeStats(out io.Writer, stats supervision.Stats, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(out).Encode(stats)
	}
	fmt.Fprintf(out, "records: %d\nconfirmed: %d\ncorrected: %d\nno prediction: %d\n",
		stats.Records, stats.Confirmed, stats.Corrected, stats.NoPrediction)
	for _, l := range stats.TopLabels() {
		fmt.Fprintf(out, "  %-14s %d\n", l, stats.LabelCounts[l])
	}
	return nil
}

func newExportCmd(st *cliState) *cobra.Command {
	var (
		outPath   string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the supervision file as a chat fine-tuning JSONL dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.resolveConfig(cmd, os.Getenv)
			if err != nil {
				return err
			}
			n, err := runExport(cfg, outPath, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d examples to %s\n", n, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", filepath.FromSlash("output/finetune.jsonl"), "Output JSONL file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing output file")
	return cmd
}

func runExport(cfg Config, outPath string, overwrite bool) (int, error) {
	rows, err := supervision.ReadAll(cfg.SupervisionPath)
	if err != nil {
		return 0, err
	}
	examples, err := supervision.BuildFineTuneExamples(rows, supervision.ExportOptions{
		Instructions: provider.Instructions(cfg.Labels),
		Labels:       cfg.Labels,
	})
	if err != nil {
		return 0, err
	}
	if len(examples) == 0 {
		return 0, errors.New("no confirmed episodes to export")
	}
	if err := supervision.WriteFineTuneJSONL(outPath, examples, overwrite); err != nil {
		return 0, err
	}
	return len(examples), nil
}

func newVersionCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if st.jsonOut {
				_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emotions-bot version %s\n", version)
		},
	}
}

func buildClassifier(cfg Config) (*provider.OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing OPENAI_API_KEY (or set api_key in the config file)")
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return provider.NewOpenAIClassifier(&client, provider.ClassifierOptions{
		Model:            cfg.Model,
		Labels:           cfg.Labels,
		StructuredOutput: cfg.StructuredOutput,
		MaxOutputTokens:  cfg.MaxOutputTokens,
	})
}

// buildSupervisionLog opens the CSV log and, when configured, its SQLite
// mirror. The returned func releases both.
func buildSupervisionLog(cfg Config) (supervision.Appender, func(), error) {
	csvLog, err := supervision.NewCSVLog(cfg.SupervisionPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SQLitePath == "" {
		return csvLog, func() {}, nil
	}
	db, err := supervision.OpenSQLiteLog(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return supervision.NewMultiLog(csvLog, db), func() { _ = db.Close() }, nil
}
