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
	"github.com/nelssec/scanbridge/internal/dojo"
	"github.com/nelssec/scanbridge/internal/logger"
	"github.com/nelssec/scanbridge/internal/output"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	cfgFile   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dojo-import",
		Short: "Import Nessus scan reports into DefectDojo",
		Long: `dojo-import uploads every .nessus file in a directory to DefectDojo as a
new test. All files go to one engagement under one product; both are created
if they do not exist yet.

Without --product-name the product name is taken from the first file name:
the part before the first underscore, or the name without its extension.`,
		SilenceUsage:      true,
		PersistentPreRunE: initCommand,
		RunE:              runImport,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.config/scanbridge/config.yaml)")
	flags.StringP("directory", "d", "", "Directory containing Nessus reports (default: "+config.DefaultOutputDir+")")
	flags.StringP("url", "u", "", "DefectDojo URL (default: "+config.DefaultDojoURL+")")
	flags.String("username", "", "DefectDojo username (required)")
	flags.StringP("password", "p", "", "DefectDojo password (required)")
	flags.String("product-name", "", "Override product name (otherwise extracted from filenames)")
	flags.String("engagement-name", "", "Engagement name to use (default: "+config.DefaultEngagementName+")")
	flags.String("scan-type", "", "Scan type to use for imports (default: "+config.DefaultScanType+")")
	flags.Bool("json", false, "Output as JSON (for automation)")
	flags.BoolP("quiet", "q", false, "Only log warnings and errors")
	flags.BoolP("verbose", "v", false, "Verbose logging")
	flags.String("log-format", "", "Log format: console, json")

	viper.BindPFlag("defectdojo.directory", flags.Lookup("directory"))
	viper.BindPFlag("defectdojo.url", flags.Lookup("url"))
	viper.BindPFlag("defectdojo.username", flags.Lookup("username"))
	viper.BindPFlag("defectdojo.password", flags.Lookup("password"))
	viper.BindPFlag("defectdojo.product_name", flags.Lookup("product-name"))
	viper.BindPFlag("defectdojo.engagement_name", flags.Lookup("engagement-name"))
	viper.BindPFlag("defectdojo.scan_type", flags.Lookup("scan-type"))
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

func runImport(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if err := cfg.ValidateImporter(); err != nil {
		return err
	}

	importer := dojo.NewImporter(dojo.NewClient(cfg.GetDojoURL()), dojo.ImporterOptions{
		Directory:      cfg.GetReportDir(),
		Username:       cfg.Dojo.Username,
		Password:       cfg.Dojo.Password,
		ProductName:    cfg.Dojo.ProductName,
		EngagementName: cfg.GetEngagementName(),
		ScanType:       cfg.GetScanType(),
	})

	summary, err := importer.Run(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return output.PrintJSON(summary)
	}

	output.PrintImportTable(summary)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dojo-import version %s\n", Version)
			fmt.Printf("Build time: %s\n", BuildTime)
		},
	}
}
