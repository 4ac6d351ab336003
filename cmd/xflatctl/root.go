// Package main implements xflatctl, an operator tool for inspecting XFlat
// table files directly: it never goes through the cached-document engine's
// MVCC or lifecycle machinery, reading table files and directory layouts as
// a human would.
package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:               "xflatctl",
		Short:             "Inspect XFlat table files",
		PersistentPreRunE: rootPreRun,
	}

	logLevel  = "info"
	logStderr = true
	logFile   = ""
	logWriter io.WriteCloser
)

func init() {
	log.SetFormatter(&log.TextFormatter{DisableLevelTruncation: true})

	fs := rootCmd.PersistentFlags()
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.BoolVar(&logStderr, "log-stderr", logStderr, "log to standard error")
	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging when --log-stderr=false")
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("xflatctl: %s", err)
		}
		log.SetOutput(logWriter)
	}
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("xflatctl: %s", err)
	}
	log.SetLevel(ll)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if logWriter != nil {
		logWriter.Close()
	}
}
