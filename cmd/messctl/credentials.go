package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"messgate/internal/auth"
	"messgate/internal/config"
	"messgate/internal/credential"
)

func newCodec(cfg config.App) (*credential.Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return credential.NewCodec(cfg.CredentialSecret, cfg.CredentialMaxAge)
}

func issueCmd() *cobra.Command {
	var hostelID int64
	var subject string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Encode a scan credential for a student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec(config.Load())
			if err != nil {
				return err
			}
			token, err := codec.Encode(hostelID, subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&hostelID, "hostel", 0, "hostel id")
	cmd.Flags().StringVar(&subject, "subject", "", "student user id")
	_ = cmd.MarkFlagRequired("hostel")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [token]",
		Short: "Verify a scan credential and print its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec(config.Load())
			if err != nil {
				return err
			}
			cred, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hostel:    %d\n", cred.HostelID)
			fmt.Fprintf(out, "subject:   %s\n", cred.SubjectID)
			fmt.Fprintf(out, "issued_at: %s\n", cred.IssuedAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API bearer token for a principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			tok, err := auth.Issue(subject, r, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleMessStaff), "STUDENT, MESS_STAFF, ADMIN or SUPER_ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
