package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/myinspectra/inspectra-go/cmd"
	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/logging"
)

func main() {
	settings, err := conf.Load(os.Getenv("INSPECTRA_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(settings.Debug)

	if settings.Main.Log.Enabled {
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLogger, closeLog, err := logging.NewFileLogger(
			settings.Main.Log.Path, settings.Main.Name, level, settings.Main.Log.MaxSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer closeLog() //nolint:errcheck
		logging.SetStructured(fileLogger)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
