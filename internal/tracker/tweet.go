package tracker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taowatch/transfer-monitor/internal/taostats"
)

// raoPerTAO is the chain's fixed scale: amounts arrive in rao.
var raoPerTAO = decimal.NewFromInt(1_000_000_000)

// Direction tags a transfer relative to the tracked address.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TAOAmount converts a raw rao amount to TAO rounded to 4 decimal places.
// Malformed or missing amounts count as zero.
func TAOAmount(tx taostats.Transfer) decimal.Decimal {
	raw, err := decimal.NewFromString(tx.Amount.String())
	if err != nil {
		return decimal.Zero
	}
	return raw.Div(raoPerTAO).Round(4)
}

// Totals holds the same-day aggregate TAO moved in each direction,
// computed once per cycle and reused for every tweet of that cycle.
type Totals struct {
	In  decimal.Decimal
	Out decimal.Decimal
}

// DailyTotals sums the scaled amounts of all current inbound and outbound
// transfers.
func DailyTotals(inbound, outbound []taostats.Transfer) Totals {
	t := Totals{In: decimal.Zero, Out: decimal.Zero}
	for _, tx := range inbound {
		t.In = t.In.Add(TAOAmount(tx))
	}
	for _, tx := range outbound {
		t.Out = t.Out.Add(TAOAmount(tx))
	}
	t.In = t.In.Round(4)
	t.Out = t.Out.Round(4)
	return t
}

// BuildTweet renders the announcement text for one newly detected transfer.
func BuildTweet(tx taostats.Transfer, dir Direction, totals Totals, now time.Time) string {
	amount := TAOAmount(tx)

	var from, to string
	if tx.From != nil {
		from = tx.From.SS58
	}
	if tx.To != nil {
		to = tx.To.SS58
	}

	path := "Solana → Bittensor"
	emoji := "📥"
	if dir == DirectionOut {
		path = "Bittensor → Solana"
		emoji = "📤"
	}

	var link string
	if tx.ExtrinsicID != "" {
		link = fmt.Sprintf("🔗 https://taostats.io/extrinsic/%s\n\n", tx.ExtrinsicID)
	} else if tx.BlockNumber.String() != "" {
		link = fmt.Sprintf("🔗 https://taostats.io/block/%s\n\n", tx.BlockNumber.String())
	}

	return fmt.Sprintf("🚀 VoidAi [ SN106 (Bittensor) ] Tracker 🚀\n\n"+
		"📊 Daily Totals:\n"+
		"   • Bittensor → Solana: %s TAO\n"+
		"   • Solana → Bittensor: %s TAO\n\n"+
		"%s New Transfer Detected: %s TAO 🟡\n\n"+
		"🔗 Path:\n"+
		"   %s → %s\n"+
		"   (%s)\n\n"+
		"%s"+
		"⏰ Time: %s\n\n"+
		"#Bittensor #TAO #DeFi #Blockchain #SN106",
		totals.Out, totals.In,
		emoji, amount,
		shortAddr(from), shortAddr(to),
		path,
		link,
		now.UTC().Format("15:04:05 UTC"))
}

// shortAddr shows the first and last six characters of an ss58 address.
func shortAddr(addr string) string {
	if addr == "" {
		return "Unknown"
	}
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-6:]
}
