package main

import (
	"fmt"
	"os"

	"github.com/legionhq/legiond/internal/config"
	"github.com/legionhq/legiond/internal/store"
	"github.com/legionhq/legiond/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	passphrase := os.Getenv("LEGIOND_VAULT_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("LEGIOND_VAULT_PASSPHRASE environment variable is required")
	}

	v := vault.New(passphrase)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return vaultList(db)
	case "set":
		return vaultSet(db, v, args[1:])
	case "get":
		return vaultGet(db, v, args[1:])
	case "delete":
		return vaultDelete(db, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: legiond vault <command>

Commands:
  list                  List stored secret names
  set <name> <value>    Store an encrypted secret
  get <name>            Retrieve and decrypt a secret
  delete <name>         Delete a secret

Environment:
  LEGIOND_VAULT_PASSPHRASE   Required. Encryption passphrase.
`)
}

func vaultList(db *store.Store) error {
	names, err := db.ListSecretNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func vaultSet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: legiond vault set <name> <value>")
	}
	name, value := args[0], args[1]

	ciphertext, nonce, err := v.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := db.SaveSecret(&store.Secret{Name: name, Value: ciphertext, Nonce: nonce}); err != nil {
		return err
	}
	fmt.Printf("Secret %q stored.\n", name)
	return nil
}

func vaultGet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: legiond vault get <name>")
	}
	sec, err := db.GetSecret(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	plaintext, err := v.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	fmt.Println(string(plaintext))
	return nil
}

func vaultDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: legiond vault delete <name>")
	}
	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted.\n", args[0])
	return nil
}
