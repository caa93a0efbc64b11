package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/spf13/cobra"
)

var (
	keyfile string
)

// NewKeygenCmd produces a KeygenCmd which creates a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new key pair",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyfile, "keyfile", _config.Keyfile(), "File where the private key will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	address, err := writeNewKey(keyfile)
	if err != nil {
		return err
	}

	fmt.Printf("Your private key has been saved to: %s\n", keyfile)
	fmt.Printf("Your address is: %s\n", address)

	return nil
}

// writeNewKey generates a key, saves it to path and returns its address. It
// never overwrites an existing key.
func writeNewKey(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("A key already lives under: %s", filepath.Dir(path))
	}

	key, err := keys.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("Error generating key: %s", err)
	}

	if err := keys.NewSimpleKeyfile(path).WriteKey(key); err != nil {
		return "", fmt.Errorf("Writing private key: %s", err)
	}

	return keys.Address(key.PubKey()), nil
}
