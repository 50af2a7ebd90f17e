package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/matrixnet/internal/crypto"
)

const passwordEnv = "MATRIXNET_SECRET_PASSWORD"

func newEncryptSecretCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Seal the wallet API secret read from stdin into an encrypted file",
		Long: "Reads the wallet API secret from stdin and writes it sealed with a " +
			"password taken from " + passwordEnv + ". Point wallet.encrypted_secret_path at the output.",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv(passwordEnv)
			if password == "" {
				return fmt.Errorf("%s must be set", passwordEnv)
			}
			secret, err := readLine(cmd)
			if err != nil {
				return err
			}
			blob, err := crypto.SealSecret(secret, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed secret written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "wallet_secret.json", "output file")
	return cmd
}

func readLine(cmd *cobra.Command) (string, error) {
	sc := bufio.NewScanner(cmd.InOrStdin())
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no secret on stdin")
	}
	secret := strings.TrimSpace(sc.Text())
	if secret == "" {
		return "", errors.New("no secret on stdin")
	}
	return secret, nil
}
