// Package keys generates and stores the payment key material. The server
// only ever sees the extended public key file; the mnemonic and any private
// key material stay with the operator, encrypted at rest.
package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160"
)

// NewMnemonic generates a fresh 24-word recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("error generating entropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("error generating mnemonic: %v", err)
	}
	return mnemonic, nil
}

func IsValidMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// MasterFromMnemonic derives the master extended private key from a recovery
// phrase and optional passphrase.
func MasterFromMnemonic(mnemonic, passphrase string, params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic provided")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	rootKey, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("error creating master key: %v", err)
	}
	return rootKey, nil
}

// MasterFingerprint calculates the fingerprint identifying the master key,
// used to confirm a restored phrase matches the deployed public key.
func MasterFingerprint(rootKey *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := rootKey.ECPubKey()
	if err != nil {
		return 0, fmt.Errorf("failed to get public key from root key: %v", err)
	}

	sha := sha256.New()
	if _, err := sha.Write(pubKey.SerializeCompressed()); err != nil {
		return 0, fmt.Errorf("failed to write sha256: %v", err)
	}
	hash160 := ripemd160.New()
	if _, err := hash160.Write(sha.Sum(nil)); err != nil {
		return 0, fmt.Errorf("failed to write ripemd160: %v", err)
	}

	return binary.BigEndian.Uint32(hash160.Sum(nil)[:4]), nil
}

// SaveXPub writes the neutered key to path for the server to load.
func SaveXPub(rootKey *hdkeychain.ExtendedKey, path string) (string, error) {
	neutered, err := rootKey.Neuter()
	if err != nil {
		return "", fmt.Errorf("error neutering master key: %v", err)
	}
	xPub := neutered.String()
	if err := os.WriteFile(path, []byte(xPub+"\n"), 0600); err != nil {
		return "", fmt.Errorf("error writing %s: %v", path, err)
	}
	return xPub, nil
}

// LoadXPub reads and parses an extended public key file.
func LoadXPub(path string) (*hdkeychain.ExtendedKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %v", path, err)
	}
	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("error parsing extended key: %v", err)
	}
	return key, nil
}
