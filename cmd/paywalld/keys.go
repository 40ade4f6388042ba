package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/paywalld/paywalld/internal/config"
	"github.com/paywalld/paywalld/internal/keys"
)

const masterKeyFile = "master.env"

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new payment key",
	Long: `Generates a recovery phrase, stores it encrypted, and writes the
extended public key file the server derives payment addresses from.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runKeygen(); err != nil {
			log.Fatalf("Error generating key: %v", err)
		}
	},
}

var xpubCmd = &cobra.Command{
	Use:   "xpub",
	Short: "Print the extended public key",
	Long:  `Decrypts the stored recovery phrase and prints the extended public key.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runXPub(); err != nil {
			log.Fatalf("Error reading key: %v", err)
		}
	},
}

func runKeygen() error {
	keysDir := viper.GetString("keys_dir")
	envFile := filepath.Join(keysDir, masterKeyFile)

	if _, err := os.Stat(envFile); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", envFile)
	}

	mnemonic, err := keys.NewMnemonic()
	if err != nil {
		return err
	}

	fmt.Println("Your new seed phrase is:")
	fmt.Println(mnemonic)
	fmt.Println("Please write this down and keep it safe.")

	password, err := readPassword("Enter a password to encrypt your key: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	encryptedMnemonic, err := keys.Encrypt(mnemonic, password)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return fmt.Errorf("error creating keys directory: %v", err)
	}
	if err := godotenv.Write(map[string]string{
		"ENCRYPTED_MNEMONIC": encryptedMnemonic,
	}, envFile); err != nil {
		return fmt.Errorf("error saving encrypted key: %v", err)
	}

	params, err := config.NetworkParams()
	if err != nil {
		return err
	}
	rootKey, err := keys.MasterFromMnemonic(mnemonic, "", params)
	if err != nil {
		return err
	}

	return printKeyInfo(rootKey, true)
}

func runXPub() error {
	rootKey, err := loadMasterKey()
	if err != nil {
		return err
	}
	return printKeyInfo(rootKey, false)
}

// printKeyInfo prints the fingerprint and xpub, copies the xpub to the
// clipboard, and optionally writes the server's xpub file.
func printKeyInfo(rootKey *hdkeychain.ExtendedKey, save bool) error {
	fingerprint, err := keys.MasterFingerprint(rootKey)
	if err != nil {
		return err
	}

	var xPub string
	if save {
		xPubPath := filepath.Join(viper.GetString("content_path"), viper.GetString("xpub_file"))
		xPub, err = keys.SaveXPub(rootKey, xPubPath)
		if err != nil {
			return err
		}
		fmt.Printf("Extended public key written to %s\n", xPubPath)
	} else {
		neutered, err := rootKey.Neuter()
		if err != nil {
			return err
		}
		xPub = neutered.String()
	}

	fmt.Printf("Master fingerprint: %08x\n", fingerprint)
	fmt.Println(xPub)

	if err := clipboard.WriteAll(xPub); err != nil {
		log.Printf("Could not copy to clipboard: %v", err)
	} else {
		fmt.Println("Copied to clipboard.")
	}
	return nil
}

// loadMasterKey decrypts the stored recovery phrase and re-derives the
// master key. Used by xpub and redeem.
func loadMasterKey() (*hdkeychain.ExtendedKey, error) {
	envFile := filepath.Join(viper.GetString("keys_dir"), masterKeyFile)
	if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("error loading key file %s: %v", envFile, err)
	}

	encryptedMnemonic := os.Getenv("ENCRYPTED_MNEMONIC")
	if encryptedMnemonic == "" {
		return nil, fmt.Errorf("encrypted key data not found in %s", envFile)
	}

	password, err := readPassword("Enter your key password: ")
	if err != nil {
		return nil, err
	}

	mnemonic, err := keys.Decrypt(encryptedMnemonic, password)
	if err != nil {
		return nil, fmt.Errorf("wrong password or corrupt key file: %v", err)
	}

	params, err := config.NetworkParams()
	if err != nil {
		return nil, err
	}
	return keys.MasterFromMnemonic(mnemonic, "", params)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("error reading password: %v", err)
	}
	return strings.TrimSpace(string(passwordBytes)), nil
}
