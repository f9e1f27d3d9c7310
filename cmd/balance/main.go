package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/dotenv"
	"github.com/vh7889/OKX-bot/internal/okx"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var hostFlag string
	var simulatedFlag bool
	var detailsFlag bool
	simulatedDefault, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("OKX_SIMULATED")))
	flag.StringVar(&hostFlag, "rest-url", firstNonEmpty(os.Getenv("OKX_REST_URL"), okx.DefaultHost), "OKX REST base URL")
	flag.BoolVar(&simulatedFlag, "simulated", simulatedDefault, "Query the demo-trading account")
	flag.BoolVar(&detailsFlag, "details", false, "Print per-currency balances")
	flag.Parse()

	creds := okx.Credentials{
		APIKey:     firstNonEmpty(os.Getenv("OKX_API_KEY"), os.Getenv("API_KEY")),
		Secret:     firstNonEmpty(os.Getenv("OKX_SECRET_KEY"), os.Getenv("SECRET_KEY")),
		Passphrase: firstNonEmpty(os.Getenv("OKX_PASSPHRASE"), os.Getenv("PASSPHRASE")),
	}
	client, err := okx.NewClient(hostFlag, creds, simulatedFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	bal, err := client.Balance(ctx)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	fmt.Printf("total_equity: %s USD\n", formatAmount(bal.TotalEq, 2))
	if !detailsFlag {
		return
	}
	for _, d := range bal.Details {
		fmt.Printf("  %-6s eq=%s avail=%s eq_usd=%s\n", d.Ccy, formatAmount(d.Eq, 8), formatAmount(d.AvailBal, 8), formatAmount(d.EqUsd, 2))
	}
}

func formatAmount(s string, places int32) string {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return "0"
	}
	return d.Round(places).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
