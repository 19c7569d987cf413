package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
)

var unwrapCmd = &cobra.Command{
	Use:   "unwrap <envelope-file>",
	Short: "Open a state envelope and print its claims",
	Long: `Decrypt a state envelope with the receiver private key and print the
enclosed claims as JSON.

When --verify-key is given the inner signature is verified with that
platform public key; otherwise the claims are extracted without signature
verification (useful for inspecting envelopes during debugging).

Pass "-" as the envelope file to read the token from stdin.

Example:
  statectl wrap claims.json ... | statectl unwrap - --key ./keys/receiver.jwk`,
	Args: cobra.ExactArgs(1),
	RunE: runUnwrap,
}

var (
	decryptionKeyPath string
	verifyKeyPath     string
)

func init() {
	rootCmd.AddCommand(unwrapCmd)

	unwrapCmd.Flags().StringVar(&decryptionKeyPath, "key", "", "Receiver private key JWK file (required)")
	unwrapCmd.Flags().StringVar(&verifyKeyPath, "verify-key", "", "Platform public key JWK file for signature verification")

	_ = unwrapCmd.MarkFlagRequired("key")
}

func runUnwrap(cmd *cobra.Command, args []string) error {
	var tokenBytes []byte
	var err error
	if args[0] == "-" {
		tokenBytes, err = io.ReadAll(cmd.InOrStdin())
	} else {
		tokenBytes, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))

	decryptionKey, err := readKeyFile(decryptionKeyPath)
	if err != nil {
		return err
	}

	signedToken, err := crypto.DecryptEnvelope(token, decryptionKey)
	if err != nil {
		return err
	}

	var claims *crypto.Claims
	if verifyKeyPath != "" {
		verifyKey, err := readKeyFile(verifyKeyPath)
		if err != nil {
			return err
		}
		claims, err = crypto.VerifySignedClaims(signedToken, verifyKey)
		if err != nil {
			return err
		}
	} else {
		// no signature check - decode the payload only
		parts := strings.Split(string(signedToken), ".")
		if len(parts) != 3 {
			return fmt.Errorf("decrypted payload is not a compact JWS")
		}
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			return fmt.Errorf("failed to decode JWS payload: %w", err)
		}
		claims = &crypto.Claims{}
		if err := json.Unmarshal(payload, claims); err != nil {
			return fmt.Errorf("failed to parse claims: %w", err)
		}
		cmd.PrintErrln("warning: signature not verified (no --verify-key given)")
	}

	out, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))

	return nil
}
