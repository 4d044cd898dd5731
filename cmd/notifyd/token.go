package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:     "token",
	Short:   "Mint a user access token for local testing",
	GroupID: "tools",
	Long: `Mint an HS256 access token signed with NOTIFY_JWT_SECRET (or --secret).
Production tokens are issued by the login service; this is for development
and smoke tests only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		sub, _ := cmd.Flags().GetString("sub")
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		tok, err := mintToken(secret, sub, email, role, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func mintToken(secret, sub, email, role string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("a signing secret is required (--secret or NOTIFY_JWT_SECRET)")
	}
	if sub == "" {
		return "", fmt.Errorf("--sub is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	return auth.Sign(secret, auth.Claims{
		UserID: auth.Subject(sub),
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

func init() {
	tokenCmd.Flags().String("secret", os.Getenv("NOTIFY_JWT_SECRET"), "HMAC signing secret")
	tokenCmd.Flags().String("sub", "", "user id (required)")
	tokenCmd.Flags().String("email", "", "email claim")
	tokenCmd.Flags().String("role", "USER", "role claim")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
}
