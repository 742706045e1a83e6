// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var attachmentCmd = &cobra.Command{
	Use:   "attachment",
	Short: "Manage attachment records",
}

var attachmentDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an attachment record and release its stored bytes",
	Run:   runAttachmentDelete,
}

func init() {
	rootCmd.AddCommand(attachmentCmd)
	attachmentCmd.AddCommand(attachmentDeleteCmd)

	f := attachmentDeleteCmd.Flags()
	f.Int64("id", 0, "Attachment id (required)")
	addStoreFlags(f)
	addUploadFlags(f)
	addDBFlags(f)
	addEventFlags(f)
	viper.BindPFlags(f)
	attachmentDeleteCmd.MarkFlagRequired("id")
}

func runAttachmentDelete(cmd *cobra.Command, args []string) {
	svc, err := buildServices(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer svc.Close()

	id, _ := cmd.Flags().GetInt64("id")
	a, err := svc.coord.DeleteAttachment(cmd.Context(), id)
	if err != nil {
		svc.Close()
		logger.Fatal().Err(err).Int64("id", id).Msg("failed to delete attachment")
	}
	if err := printJSON(a); err != nil {
		logger.Error().Err(err).Msg("failed to write output")
	}
}
