// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var presignCmd = &cobra.Command{
	Use:   "presign",
	Short: "Print a pre-signed PUT URL for an object key",
	Long: `Pre-sign a PUT for --key against the configured bucket. With --upload_id and
--part the URL uploads one part of an open multipart upload instead.`,
	Run: runPresign,
}

func init() {
	rootCmd.AddCommand(presignCmd)

	f := presignCmd.Flags()
	f.String("key", "", "Object key to pre-sign (required)")
	f.Duration("presign_expire", time.Hour, "URL lifetime")
	f.String("upload_id", "", "Multipart upload id")
	f.Int("part", 0, "Part number (1-10000), used with --upload_id")
	addStoreFlags(f)
	viper.BindPFlags(f)
	presignCmd.MarkFlagRequired("key")
}

func runPresign(cmd *cobra.Command, args []string) {
	f := NewFlagLoader(cmd)
	cfg := loadStoreConfig(f)

	creds, err := s3client.ResolveCredentials(cmd.Context(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve store credentials")
	}
	client, err := s3client.New(s3client.Config{Credentials: creds, Timeout: cfg.Timeout})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create store client")
	}

	key := f.String("key")
	expiry := f.Duration("presign_expire")
	uploadID := f.String("upload_id")

	var u *signature.PresignedURL
	if uploadID != "" {
		u, err = client.PresignUploadPart(cmd.Context(), client.Bucket(), key, uploadID, f.Int("part"), expiry)
	} else {
		u, err = client.PresignPutObject(cmd.Context(), client.Bucket(), key, expiry)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to pre-sign")
	}
	if err := printJSON(u); err != nil {
		logger.Fatal().Err(err).Msg("failed to write output")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
