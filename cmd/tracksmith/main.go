package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/amosWeiskopf/tracksmith/internal/config"
	"github.com/amosWeiskopf/tracksmith/internal/logging"
	"github.com/amosWeiskopf/tracksmith/internal/models"
	"github.com/amosWeiskopf/tracksmith/pkg/crawler"
	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
	"github.com/amosWeiskopf/tracksmith/pkg/reporter"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tracksmith [URL] [OUTPUT_DIR]",
	Short: "Tracksmith - audio file crawler",
	Long: `Tracksmith downloads the audio files reachable from a web page and from
the same-site pages it links to, resolving player pages to the real stream.

Run without arguments to be prompted for the URL and output folder.`,
	Args:         cobra.MaximumNArgs(2),
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	RunE:         runCrawl,
}

func runCrawl(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	startURL, outputDir := "", cfg.Download.OutputDir
	switch len(args) {
	case 2:
		startURL, outputDir = args[0], args[1]
	case 1:
		startURL = args[0]
	default:
		startURL, outputDir, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), outputDir)
		if err != nil {
			return err
		}
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	var clientOpts []fetch.Option
	if cfg.Crawler.UserAgent != "" {
		clientOpts = append(clientOpts, fetch.WithUserAgent(cfg.Crawler.UserAgent))
	}
	client, err := fetch.NewClient(clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := crawler.New(client, logger, crawler.OptionsFromConfig(cfg))
	// progress goes to stderr so a piped report on stdout stays clean
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriterFile(os.Stderr))
	if out := consoleOutput(cfg.Logging.OutputPath); out != nil {
		logger.SetOutput(&spinnerWriter{s: s, w: out})
	}
	c.OnPage(func(ev models.PageEvent) {
		s.Lock()
		s.Suffix = pageSuffix(ev)
		s.Unlock()
		s.Start()
	})

	summary, runErr := c.Run(ctx, startURL, outputDir)
	s.Stop()
	if summary == nil {
		return fmt.Errorf("crawl failed: %w", runErr)
	}

	report, err := reporter.New().Generate(summary, cfg.Report.Format)
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), report)

	if errors.Is(runErr, context.Canceled) {
		return errors.New("interrupted")
	}
	return runErr
}

// prompt asks for the start URL and output folder when none were given
func prompt(in io.Reader, out io.Writer, defaultDir string) (string, string, error) {
	r := bufio.NewReader(in)

	fmt.Fprint(out, "Enter the website URL: ")
	startURL, err := r.ReadString('\n')
	startURL = strings.TrimSpace(startURL)
	if startURL == "" {
		if err != nil && err != io.EOF {
			return "", "", fmt.Errorf("read url: %w", err)
		}
		return "", "", errors.New("no URL given")
	}

	fmt.Fprintf(out, "Enter output folder (default: %s): ", defaultDir)
	dir, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", "", fmt.Errorf("read output folder: %w", err)
	}
	if dir = strings.TrimSpace(dir); dir == "" {
		dir = defaultDir
	}
	return startURL, dir, nil
}

func init() {
	def := config.Default()
	flags := rootCmd.Flags()

	flags.StringP("output", "o", def.Download.OutputDir, "Output folder when not given as an argument")
	flags.Int("max-pages", def.Crawler.MaxLinkedPages, "Maximum number of linked pages to check")
	flags.Int("concurrency", def.Crawler.Concurrency, "Downloads in flight per page")
	flags.Bool("robots", def.Crawler.FollowRobotsTxt, "Skip linked pages disallowed by robots.txt")
	flags.String("dedup", string(def.Crawler.DedupPolicy), "Candidate identity (exact, ignore_query)")
	flags.String("user-agent", def.Crawler.UserAgent, "Fixed User-Agent instead of rotating browser agents")
	flags.String("extension", def.Download.Extension, "Media file extension to look for")
	flags.Int64("min-bytes", def.Download.MinBytes, "Files smaller than this are discarded")
	flags.String("log-level", def.Logging.Level, "Log level (debug, info, warn, error)")
	flags.String("log-format", def.Logging.Format, "Log format (text, json, logfmt)")
	flags.String("format", def.Report.Format, "Summary format (text, markdown, json)")

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
