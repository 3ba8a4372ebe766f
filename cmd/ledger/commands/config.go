// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/ledger/config"
	"github.com/luxfi/ledger/keys"
)

var errNoPubkey = errors.New("This node's public key wasn't set anywhere so it can't be exported")

func configureCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "configure",
		Short: "Writes a config file with a new key pair",
		Args:  cobra.NoArgs,
		RunE:  configureFunc,
	}
	c.Flags().BoolP(YesKey, "y", false, "Overwrite an existing config file without asking")
	return c
}

func configureFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	path, err := configPath(flags)
	if err != nil {
		return err
	}
	yes, err := flags.GetBool(YesKey)
	if err != nil {
		return err
	}

	cfg := config.Default()
	existing, err := config.Load(path)
	switch {
	case err == nil:
		if !yes {
			ok, err := confirm(c, fmt.Sprintf("Config file %s already exists, do you want to override it? (cannot be undone) [y/N]: ", path))
			if err != nil || !ok {
				return err
			}
		}
		cfg = existing
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	sk, err := keys.NewPrivateKey()
	if err != nil {
		return err
	}
	cfg.SetKeypair(sk)
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	out := c.OutOrStdout()
	fmt.Fprintf(out, "Configuration written to %s\n", path)
	fmt.Fprintln(out, "Ready to go!")
	return nil
}

func showConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Prints the current configuration",
		Args:  cobra.NoArgs,
		RunE:  showConfigFunc,
	}
}

func showConfigFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c.Flags())
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg.Masked(), "", "    ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.OutOrStdout(), string(b))
	return nil
}

func exportMyPubkeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export-my-pubkey",
		Short: "Prints the public key of this node",
		Args:  cobra.NoArgs,
		RunE:  exportMyPubkeyFunc,
	}
}

func exportMyPubkeyFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c.Flags())
	if err != nil {
		return err
	}
	pk := cfg.Keypair.Public
	if pk == "" && cfg.HasKeypair() {
		sk, err := cfg.PrivateKey()
		if err != nil {
			return err
		}
		pk = sk.PublicKey()
	}
	if pk == "" {
		return errNoPubkey
	}
	fmt.Fprintln(c.OutOrStdout(), pk)
	return nil
}
