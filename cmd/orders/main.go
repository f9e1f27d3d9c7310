package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vh7889/OKX-bot/internal/dotenv"
	"github.com/vh7889/OKX-bot/internal/ledger"
	"github.com/vh7889/OKX-bot/internal/okx"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var hostFlag, instIDFlag, instTypeFlag string
	var ledgerBackendFlag, ledgerPathFlag string
	var simulatedFlag, cancelOwnedFlag, dryRunFlag bool
	simulatedDefault, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("OKX_SIMULATED")))

	flag.StringVar(&hostFlag, "rest-url", firstNonEmpty(os.Getenv("OKX_REST_URL"), okx.DefaultHost), "OKX REST base URL")
	flag.StringVar(&instIDFlag, "inst-id", firstNonEmpty(os.Getenv("INST_ID"), okx.DefaultInstID), "Instrument id")
	flag.StringVar(&instTypeFlag, "inst-type", firstNonEmpty(os.Getenv("INST_TYPE"), okx.DefaultInstType), "Instrument type")
	flag.StringVar(&ledgerBackendFlag, "ledger-backend", firstNonEmpty(os.Getenv("LEDGER_BACKEND"), ledger.BackendPebble), "Ledger backend: pebble or json")
	flag.StringVar(&ledgerPathFlag, "ledger-path", firstNonEmpty(os.Getenv("LEDGER_PATH"), "./out/ledger"), "Ledger directory (pebble) or file (json)")
	flag.BoolVar(&simulatedFlag, "simulated", simulatedDefault, "Use the demo-trading account")
	flag.BoolVar(&cancelOwnedFlag, "cancel-owned", false, "Cancel every listed order that the bot's ledger owns")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "With --cancel-owned, only print what would be cancelled")
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

	// The bot holds the pebble lock while running; this tool is meant for
	// when it is stopped.
	led, err := ledger.OpenBackend(ledgerBackendFlag, ledgerPathFlag)
	if err != nil {
		log.Printf("[warn] ledger unavailable (%v); ownership column will be empty", err)
		led = nil
	}
	if led != nil {
		defer led.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orders, err := client.PendingOrders(ctx, instTypeFlag, instIDFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORD_ID\tSIDE\tPOS_SIDE\tPX\tSZ\tFILLED\tSTATE\tOWNED")
	var owned []okx.PendingOrder
	for _, o := range orders {
		mine := led != nil && led.Owns(o.OrdID)
		if mine {
			owned = append(owned, o)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n", o.OrdID, o.Side, o.PosSide, o.Px, o.Sz, firstNonEmpty(o.AccFillSz, "0"), o.State, mine)
	}
	_ = tw.Flush()
	fmt.Printf("open: %d owned: %d\n", len(orders), len(owned))

	if !cancelOwnedFlag {
		return
	}
	if led == nil {
		log.Fatalf("[fatal] --cancel-owned needs the ledger; refusing to cancel orders that cannot be attributed")
	}

	failed := 0
	for _, o := range owned {
		if dryRunFlag {
			fmt.Printf("would cancel %s (%s %s @ %s)\n", o.OrdID, o.PosSide, o.Side, o.Px)
			continue
		}
		if _, err := client.CancelOrder(ctx, instIDFlag, o.OrdID); err != nil && !okx.IsOrderGone(err) {
			failed++
			log.Printf("[warn] cancel %s: %v", o.OrdID, err)
			continue
		}
		fmt.Printf("cancelled %s\n", o.OrdID)
	}
	if failed > 0 {
		log.Fatalf("[fatal] %d cancel(s) failed", failed)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
