package cli

import (
	"errors"
	"time"

	"github.com/aimerfeng/docagent/internal/auth"
	"github.com/spf13/cobra"
)

// TokenIssuer mints API access tokens
type TokenIssuer interface {
	Issue(userID, email string, ttl time.Duration) (*auth.Token, error)
}

var (
	issuer TokenIssuer

	tokenTTL   time.Duration
	tokenEmail string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for the API",
	Long: `Signs a bearer token with JWT_SECRET for the user given by --user.
Intended for local development against a server that shares the secret.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	rootCmd.AddCommand(tokenCmd)
}

// SetIssuer configures token minting
func SetIssuer(i TokenIssuer) {
	issuer = i
}

func runToken(cmd *cobra.Command, _ []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	if issuer == nil {
		return errors.New("token issuer not configured")
	}

	tok, err := issuer.Issue(userID, tokenEmail, tokenTTL)
	if err != nil {
		return err
	}
	cmd.Println(tok.AccessToken)
	cmd.Printf("Expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
	return nil
}
