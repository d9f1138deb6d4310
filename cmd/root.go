package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uploadhub/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
	v       = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "uploadhub",
	Short: "Upload files to a local server with live progress",
	Long: `uploadhub receives multipart uploads, writes them to a destination directory and
pushes throttled progress events to the uploading client over a websocket or an
event stream.

Usage:
  Run the server:  uploadhub serve --dest ./downloads
  Upload files:    uploadhub upload ./a.mov ./b.png
  List files:      uploadhub ls
  Session history: uploadhub history SESSION`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadWith(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (json or yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("api", "http://localhost:3333", "server url used by upload and ls")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("client.api_url", rootCmd.PersistentFlags().Lookup("api"))

	rootCmd.AddCommand(serveCmd, uploadCmd, lsCmd, historyCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
