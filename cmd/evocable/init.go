package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/config"
	"github.com/epicrunze/evocable/internal/store"
)

var initOwnerName string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the first owner",
	Long: `Initialize a working directory: write config.yaml, create the
metadata store, register an owner, and print a fresh API token.

The token is printed once and stored only as a hash; save it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := cfgFile
		if path == "" {
			path = "config.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)

		cfg := config.DefaultConfig()
		if err := os.MkdirAll(filepath.Dir(cfg.StoreDSN), 0o755); err != nil {
			return err
		}
		st, err := store.Open(cfg.StoreDSN)
		if err != nil {
			return err
		}
		defer st.Close()

		owner, err := st.CreateOwner(ctx, initOwnerName)
		if err != nil {
			return err
		}

		token, err := newToken()
		if err != nil {
			return err
		}
		if err := st.PutToken(ctx, token, owner.ID); err != nil {
			return err
		}

		fmt.Printf("Created owner %s (%s)\n", owner.Name, owner.ID)
		fmt.Printf("API token (save it, it is not stored):\n  %s\n", token)
		fmt.Printf("\nexport %s=%s\n", "EVOCABLE_API_TOKEN", token)
		return nil
	},
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func init() {
	initCmd.Flags().StringVar(&initOwnerName, "owner", "default", "name of the first owner")

	rootCmd.AddCommand(initCmd)
}
