package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nelssec/scanbridge/internal/config"
	"github.com/nelssec/scanbridge/internal/logger"
	"github.com/nelssec/scanbridge/internal/nessus"
	"github.com/nelssec/scanbridge/internal/output"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	cfgFile   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nessus-export",
		Short: "Export completed Nessus scans to .nessus report files",
		Long: `nessus-export lists the scans on a Nessus scanner, requests a .nessus
export of each one, waits for the export to become ready and saves it to the
output directory as <scan name>.nessus (spaces replaced by underscores).

Scans are processed one at a time; a scan that fails to export is logged and
skipped.`,
		SilenceUsage:      true,
		PersistentPreRunE: initCommand,
		RunE:              runExport,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.config/scanbridge/config.yaml)")
	flags.String("url", "", "Nessus URL (default: "+config.DefaultNessusURL+")")
	flags.String("access-key", "", "Nessus API access key")
	flags.String("secret-key", "", "Nessus API secret key")
	flags.StringP("output-dir", "o", "", "Directory for exported reports (default: "+config.DefaultOutputDir+")")
	flags.String("format", "", "Export format (default: nessus)")
	flags.Duration("poll-interval", 0, "Delay between export status checks (default: 2s)")
	flags.Duration("poll-timeout", 0, "Give up on an export after this long; 0 waits indefinitely (default: 30m)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (self-signed scanners only)")
	flags.Bool("json", false, "Output as JSON (for automation)")
	flags.BoolP("quiet", "q", false, "Only log warnings and errors")
	flags.BoolP("verbose", "v", false, "Verbose logging")
	flags.String("log-format", "", "Log format: console, json")

	viper.BindPFlag("nessus.url", flags.Lookup("url"))
	viper.BindPFlag("nessus.access_key", flags.Lookup("access-key"))
	viper.BindPFlag("nessus.secret_key", flags.Lookup("secret-key"))
	viper.BindPFlag("nessus.output_dir", flags.Lookup("output-dir"))
	viper.BindPFlag("nessus.format", flags.Lookup("format"))
	viper.BindPFlag("nessus.poll_interval", flags.Lookup("poll-interval"))
	viper.BindPFlag("nessus.poll_timeout", flags.Lookup("poll-timeout"))
	viper.BindPFlag("nessus.insecure_skip_verify", flags.Lookup("insecure-skip-verify"))
	viper.BindPFlag("logging.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(newVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func initCommand(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(cfgFile); err != nil {
		return err
	}
	cfg := config.Get()

	level := cfg.Logging.Level
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = "warn"
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger.Init(level, cfg.Logging.Format)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := cfg.ValidateExporter(); err != nil {
		return err
	}

	log := logger.Get()
	if cfg.Nessus.InsecureSkipVerify {
		log.Warn().Str("url", cfg.GetNessusURL()).Msg("TLS certificate verification is disabled")
	}

	client := nessus.NewClient(nessus.Options{
		BaseURL:            cfg.GetNessusURL(),
		AccessKey:          cfg.Nessus.AccessKey,
		SecretKey:          cfg.Nessus.SecretKey,
		InsecureSkipVerify: cfg.Nessus.InsecureSkipVerify,
	})

	exporter := nessus.NewExporter(client, nessus.ExporterOptions{
		OutputDir:    cfg.GetOutputDir(),
		Format:       cfg.GetFormat(),
		PollInterval: cfg.GetPollInterval(),
		PollTimeout:  cfg.GetPollTimeout(),
		ScannerURL:   cfg.GetNessusURL(),
	})

	results := exporter.Run(cmd.Context())

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		if results == nil {
			results = []*nessus.ExportResult{}
		}
		return output.PrintJSON(results)
	}

	output.PrintExportTable(results)
	return cmd.Context().Err()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nessus-export version %s\n", Version)
			fmt.Printf("Build time: %s\n", BuildTime)
		},
	}
}
