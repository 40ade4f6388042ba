package config

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/paywalld/paywalld/internal/broadcast"
)

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".") // Path to look for the config file in

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create a default one
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	// Ensure we have sensible defaults in case they are not in the config file
	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	// Check the current environment (default is development)
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	if env == "development" {
		viper.SetDefault("domain", "localhost:8080")
		viper.SetDefault("listen_addr", "127.0.0.1:8080")
		viper.SetDefault("data_path", "./dev_data")
		viper.SetDefault("content_path", "./site")
		viper.SetDefault("ledger_db_path", "./dev_data/ledger.db")
		viper.SetDefault("log_level", "debug")
	} else if env == "production" {
		viper.SetDefault("domain", "my-production-site.com")
		viper.SetDefault("listen_addr", ":8080")
		viper.SetDefault("data_path", "/var/lib/paywalld/data")
		viper.SetDefault("content_path", "/var/lib/paywalld/site")
		viper.SetDefault("ledger_db_path", "/var/lib/paywalld/ledger.db")
		viper.SetDefault("log_level", "info")
	}

	// Common defaults for both environments
	viper.SetDefault("network", "mainnet") // or "testnet" or "regtest"
	viper.SetDefault("static_path", "./static")
	viper.SetDefault("cookie_secret", "")
	viper.SetDefault("xpub_file", "xpub.txt")
	viper.SetDefault("keys_dir", "./keys")
	viper.SetDefault("pricelist_file", "pricelist.json")
	viper.SetDefault("pricelist_reload_interval", "10s")
	viper.SetDefault("xpub_reload_interval", "1m")
	viper.SetDefault("fee_per_kb", 1000) // in satoshis
	viper.SetDefault("worker_id", 0)
	viper.SetDefault("log_file", "paywalld.log")
	viper.SetDefault("mapi_endpoints", []map[string]interface{}{
		{
			"name": "taal",
			"url":  "https://mapi.taal.com/mapi/tx",
			"extra_headers": map[string]string{
				"Content-Type": "application/json",
			},
		},
	})
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	// Write the default configuration to a file
	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			// If the config already exists, attempt to overwrite it
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}

// NetworkParams resolves the configured network name to chain parameters.
func NetworkParams() (*chaincfg.Params, error) {
	switch viper.GetString("network") {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %s", viper.GetString("network"))
	}
}

// MAPIEndpoints decodes the configured broadcast endpoint rotation.
func MAPIEndpoints() ([]broadcast.Endpoint, error) {
	var endpoints []broadcast.Endpoint
	if err := viper.UnmarshalKey("mapi_endpoints", &endpoints); err != nil {
		return nil, fmt.Errorf("error reading mapi_endpoints: %w", err)
	}
	return endpoints, nil
}
