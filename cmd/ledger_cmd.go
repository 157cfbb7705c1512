package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/paylink/internal/ledger"
	"github.com/frahmantamala/paylink/internal/upi"
	"github.com/frahmantamala/paylink/pkg/logger"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger provider commands",
	Long:  `Inspect the ledger provider connection: check the cookie session, list recent transactions`,
}

var ledgerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check ledger provider authentication",
	Run: func(cmd *cobra.Command, args []string) {
		client := mustLedgerClient()
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if client.IsAuthenticated(ctx) {
			fmt.Println("ledger provider: authenticated")
			return
		}
		fmt.Println("ledger provider: NOT authenticated (refresh the cookies export)")
		os.Exit(1)
	},
}

var ledgerTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List recent ledger transactions",
	Run: func(cmd *cobra.Command, args []string) {
		client := mustLedgerClient()
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		transactions, err := client.ListRecentTransactions(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list transactions: %v\n", err)
			os.Exit(1)
		}

		if len(transactions) == 0 {
			fmt.Println("no transactions")
			return
		}
		for _, txn := range transactions {
			fmt.Printf("₹%s  %-20s  ref=%s  %s\n",
				upi.FormatRupees(txn.Details.AmountPaise),
				txn.Details.CounterpartyName,
				txn.Details.ReferenceCode,
				txn.Details.Timestamp)
		}
	},
}

func mustLedgerClient() *ledger.Client {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	client, err := ledger.NewClient(ledger.Config{
		HistoryURL:     config.Ledger.HistoryURL,
		AuthCheckURL:   config.Ledger.AuthCheckURL,
		CookiesFile:    config.Ledger.CookiesFile,
		RequestTimeout: config.Ledger.RequestTimeout,
	}, logger.LoggerWrapper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize ledger client: %v\n", err)
		os.Exit(1)
	}
	return client
}

func init() {
	ledgerCmd.AddCommand(ledgerStatusCmd)
	ledgerCmd.AddCommand(ledgerTransactionsCmd)
}
