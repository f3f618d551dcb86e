package tracker

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taowatch/transfer-monitor/internal/taostats"
)

func TestTAOAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"1000000000", "1"},
		{"2500000000", "2.5"},
		{"1234567891", "1.2346"}, // rounded to 4 dp
		{"500", "0"},             // 5e-7 TAO rounds to zero
		{"0", "0"},
		{"", "0"},
		{"not-a-number", "0"},
	}
	for _, c := range cases {
		got := TAOAmount(tx("1", "5A", "5B", c.raw))
		if !got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("TAOAmount(%q) = %s, want %s", c.raw, got, c.want)
		}
	}
}

func TestDailyTotals(t *testing.T) {
	in := []taostats.Transfer{
		tx("1", "5A", tracked, "1000000000"),
		tx("2", "5B", tracked, "2500000000"),
	}
	out := []taostats.Transfer{
		tx("3", tracked, "5C", "500000000"),
	}

	totals := DailyTotals(in, out)
	if !totals.In.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("totals.In = %s, want 3.5", totals.In)
	}
	if !totals.Out.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("totals.Out = %s, want 0.5", totals.Out)
	}

	empty := DailyTotals(nil, nil)
	if !empty.In.IsZero() || !empty.Out.IsZero() {
		t.Errorf("empty totals = %s/%s, want 0/0", empty.In, empty.Out)
	}
}

func TestBuildTweetInbound(t *testing.T) {
	transfer := tx("5416754-0003", "5FromAddressAAAAAAAA", "5ToAddressBBBBBBBB", "2000000000")
	totals := Totals{In: decimal.RequireFromString("12.5"), Out: decimal.RequireFromString("3.25")}
	now := time.Date(2025, 6, 1, 9, 30, 15, 0, time.UTC)

	text := BuildTweet(transfer, DirectionIn, totals, now)

	for _, want := range []string{
		"New Transfer Detected: 2 TAO",
		"Bittensor → Solana: 3.25 TAO",
		"Solana → Bittensor: 12.5 TAO",
		"5FromA...AAAAAA",
		"5ToAdd...BBBBBB",
		"(Solana → Bittensor)",
		"https://taostats.io/extrinsic/5416754-0003",
		"Time: 09:30:15 UTC",
		"#Bittensor #TAO",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("tweet missing %q:\n%s", want, text)
		}
	}
}

func TestBuildTweetOutboundFallsBackToBlockLink(t *testing.T) {
	transfer := taostats.Transfer{
		BlockNumber: "5416754",
		From:        &taostats.Account{SS58: tracked},
		To:          &taostats.Account{SS58: "5Dest"},
		Amount:      "1000000000",
	}

	text := BuildTweet(transfer, DirectionOut, Totals{}, time.Now())

	if !strings.Contains(text, "(Bittensor → Solana)") {
		t.Errorf("outbound tweet missing direction path:\n%s", text)
	}
	if !strings.Contains(text, "https://taostats.io/block/5416754") {
		t.Errorf("tweet without extrinsic id should link the block:\n%s", text)
	}
	if strings.Contains(text, "/extrinsic/") {
		t.Errorf("unexpected extrinsic link:\n%s", text)
	}
}

func TestShortAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "Unknown"},
		{"5Short", "5Short"},
		{"5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", "5Grwva...GKutQY"},
	}
	for _, c := range cases {
		if got := shortAddr(c.in); got != c.want {
			t.Errorf("shortAddr(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
