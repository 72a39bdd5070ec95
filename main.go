package main

import (
	"log/slog"
	"os"

	"backupsync/cmd"
	"backupsync/config"
)

func main() {
	cnf, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cmd.Execute(cnf); err != nil {
		slog.Error("Failed to execute command", "error", err)
		os.Exit(1)
	}
}
