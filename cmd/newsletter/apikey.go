package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Startup-Consulting-Inc/newsletter/internal/api"
)

var apikeyName string

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key commands",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key and its config entry",
	RunE:  runAPIKeyGenerate,
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Hash an existing API key for the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyHash,
}

func init() {
	apikeyGenerateCmd.Flags().StringVar(&apikeyName, "name", "default", "Key name")

	apikeyCmd.AddCommand(apikeyGenerateCmd, apikeyHashCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyGenerate(cmd *cobra.Command, args []string) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	key := "nl_" + base64.RawURLEncoding.EncodeToString(buf)

	hash, err := api.HashKey(key)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	fmt.Printf("API key (shown once): %s\n\n", key)
	fmt.Printf("Add to config:\n")
	fmt.Printf("api:\n  keys:\n    - name: %q\n      hash: %q\n", apikeyName, hash)
	return nil
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	hash, err := api.HashKey(args[0])
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}
	fmt.Println(hash)
	return nil
}
