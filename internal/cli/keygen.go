package cli

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
)

// keygenCmd represents the keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key pair for envelope signing or encryption",
	Long: `Generate a new key pair for the state exchange.

EC P-384 keys (the default) are used with ES384 signatures and
ECDH-ES+A192KW key wrap. RSA keys are used with RS256 signatures and
RSA-OAEP-256 key wrap.

The private key is written to <output>.jwk and the public half to
<output>.pub.jwk, both as single-key JWK set files with the kid set.

Example:
  statectl keygen --type ec --output ./keys/receiver
  statectl keygen --type rsa --size 4096 --output ./keys/platform`,
	RunE: runKeygen,
}

var (
	keyType    string
	keySize    int
	outputPath string
	keyID      string
)

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keyType, "type", "ec", "Key type: ec (P-384) or rsa")
	keygenCmd.Flags().IntVar(&keySize, "size", 2048, "RSA key size in bits (2048 or 4096, ignored for ec)")
	keygenCmd.Flags().StringVar(&outputPath, "output", "./keys/key", "Output path prefix for key files")
	keygenCmd.Flags().StringVar(&keyID, "key-id", "", "Key ID for the JWK (defaults to a generated UUID)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keyID == "" {
		keyID = uuid.New().String()
	}

	var rawKey any
	var err error
	switch keyType {
	case "ec":
		rawKey, err = crypto.GenerateECP384KeyPair()
	case "rsa":
		rawKey, err = crypto.GenerateRSAKeyPair(keySize)
	default:
		return fmt.Errorf("unsupported key type: %q (expected ec or rsa)", keyType)
	}
	if err != nil {
		return err
	}

	privateKey, err := crypto.ImportKey(rawKey, keyID)
	if err != nil {
		return err
	}
	publicKey, err := crypto.PublicKeyOf(privateKey)
	if err != nil {
		return err
	}

	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)

	if err := crypto.SaveKeyToJWKFile(privateKey, dir, base+".jwk"); err != nil {
		return err
	}
	if err := crypto.SaveKeyToJWKFile(publicKey, dir, base+".pub.jwk"); err != nil {
		return err
	}

	cmd.Printf("generated %s key pair\n", keyType)
	cmd.Printf("  kid:         %s\n", keyID)
	cmd.Printf("  private key: %s.jwk (keep this secret)\n", outputPath)
	cmd.Printf("  public key:  %s.pub.jwk\n", outputPath)

	return nil
}
