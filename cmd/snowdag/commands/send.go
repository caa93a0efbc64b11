package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/spf13/cobra"
)

var (
	nodeURL   string
	recipient string
	amount    uint64
	address   string
	timeout   time.Duration
)

// NewSendCmd returns the command that signs a transfer and submits it to a
// node.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send funds to an address",
		RunE:  send,
	}

	cmd.Flags().StringVar(&keyfile, "keyfile", _config.Keyfile(), "File containing the private key of the sender")
	cmd.Flags().StringVar(&nodeURL, "node", _config.URL(), "URL of the node to submit the block to")
	cmd.Flags().StringVar(&recipient, "to", "", "Address of the recipient")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "Amount to send")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Timeout of the submission")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("amount")

	return cmd
}

// NewAccountCmd returns the command that prints an account as seen by a node.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show an account",
		RunE:  showAccount,
	}

	cmd.Flags().StringVar(&nodeURL, "node", _config.URL(), "URL of the node to query")
	cmd.Flags().StringVar(&address, "address", "", "Address of the account")
	cmd.MarkFlagRequired("address")

	return cmd
}

func send(cmd *cobra.Command, args []string) error {
	key, err := keys.NewSimpleKeyfile(keyfile).ReadKey()
	if err != nil {
		return fmt.Errorf("Reading private key: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	block, err := transfer(ctx, net.NewHTTPClient(nil, nil), nodeURL, key, recipient, amount)
	if err != nil {
		return err
	}

	fmt.Printf("Block %s submitted to %s\n", block.Hash, nodeURL)

	return nil
}

// transfer builds a block appending to the sender's chain as seen by the node
// at url, signs it and submits it.
func transfer(ctx context.Context, client net.Client, url string, key *btcec.PrivateKey, to string, amount uint64) (*ledger.Block, error) {
	if !crypto.CanDecode(to) {
		return nil, fmt.Errorf("invalid recipient %q", to)
	}

	sender := keys.Address(key.PubKey())

	account, err := client.GetAccount(ctx, url, sender)
	if err != nil {
		return nil, fmt.Errorf("fetching account %s: %w", sender, err)
	}

	previous := crypto.GenesisSentinel
	if account != nil {
		previous = account.TailHash()
	}

	block := ledger.NewBlock(sender, to, amount, previous)
	if err := block.Sign(key); err != nil {
		return nil, err
	}

	if err := client.PostBlock(ctx, url, block); err != nil {
		return nil, fmt.Errorf("submitting block: %w", err)
	}

	return block, nil
}

func showAccount(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), _config.Timeout)
	defer cancel()

	account, err := net.NewHTTPClient(nil, nil).GetAccount(ctx, nodeURL, address)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(account)
}
