package main

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel = "info"

var rootCmd = &cobra.Command{
	Use:   "supportdesk",
	Short: "Support chat desk: client sessions, operator presence and ratings",
	Long: `supportdesk serves the chat API used by clients and the support team.
Clients open chats that are handed to online operators; finished chats are
rated by the client and scored by quality control.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.WithError(err).Fatal("cannot parse log-level")
		}
		log.SetLevel(level)
		log.Debug("debug logging enabled")
	},
}

func main() {
	formatter := new(log.TextFormatter)
	formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
	formatter.FullTimestamp = true
	log.SetFormatter(formatter)

	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("no .env file loaded, using the process environment")
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
		NewSweepCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (trace,debug,info,warn,error)")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("could not execute root command")
	}
}
