// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/token"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue or verify upload tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an upload token keyed by the store credentials",
	Run:   runTokenIssue,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Check a token's signature and deadline",
	Args:  cobra.ExactArgs(1),
	Run:   runTokenVerify,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd)

	for _, c := range []*cobra.Command{tokenIssueCmd, tokenVerifyCmd} {
		addStoreFlags(c.Flags())
		viper.BindPFlags(c.Flags())
	}
	tokenIssueCmd.Flags().Duration("ttl", 10*time.Minute, "Token lifetime")
}

func loadGuard(cmd *cobra.Command) *token.Guard {
	creds, err := s3client.ResolveCredentials(cmd.Context(), loadStoreConfig(NewFlagLoader(cmd)))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve store credentials")
	}
	guard, err := token.NewGuard(creds.AccessKeyID, creds.SecretAccessKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token guard")
	}
	return guard
}

func runTokenIssue(cmd *cobra.Command, args []string) {
	ttl, _ := cmd.Flags().GetDuration("ttl")
	tok, deadline, err := loadGuard(cmd).IssueTTL(ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to issue token")
	}
	if err := printJSON(map[string]any{"token": tok, "deadline": deadline.Unix()}); err != nil {
		logger.Fatal().Err(err).Msg("failed to write output")
	}
}

func runTokenVerify(cmd *cobra.Command, args []string) {
	claims, err := loadGuard(cmd).Validate(args[0])
	if err != nil {
		logger.Fatal().Err(err).Msg("token rejected")
	}
	fmt.Printf("valid until %s\n", claims.DeadlineTime().UTC().Format(time.RFC3339))
}
