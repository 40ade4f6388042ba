package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paywalld/paywalld/internal/config"
	"github.com/paywalld/paywalld/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "paywalld",
	Short: "Bitcoin micropayment paywall",
	Long: `paywalld serves a static site behind per-path micropayments.
Visitors pay BIP270 invoices; settled payments are tracked in a local
ledger and swept to a destination address with the redeem command.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(xpubCmd)
	rootCmd.AddCommand(balanceCmd)
	showCmd.AddCommand(showInvoicesCmd)
	showCmd.AddCommand(showOutputsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(markSpentCmd)
	rootCmd.AddCommand(importInvoiceCmd)
}

func initConfig() {
	// Optional .env for deployment overrides, loaded before viper reads
	// the config file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Error reading viper config: %s", err.Error())
	}

	if err := logger.Init(viper.GetString("log_file")); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
