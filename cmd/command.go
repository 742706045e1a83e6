// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configFileName is the base name of uploadgate.{yaml,toml,json}.
const configFileName = "uploadgate"

var rootCmd = &cobra.Command{
	Use:   "uploadgate",
	Short: "uploadgate - upload gateway for S3-compatible object stores",
	Long: `uploadgate hands browsers pre-signed URLs for direct uploads to an
S3-compatible bucket, or relays uploads through itself, and keeps an
attachment record for every stored object.`,
	PersistentPreRun: initializeLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))
}

func initializeLogging(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration(configFileName, false)

	level, err := zerolog.ParseLevel(NewFlagLoader(cmd).String("log_level"))
	if err != nil {
		logger.Warn().Err(err).Msg("invalid log level, keeping default")
		return
	}
	logger.SetLevel(level)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
