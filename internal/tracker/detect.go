package tracker

import (
	"strings"
	"sync"
	"time"

	"github.com/taowatch/transfer-monitor/internal/taostats"
)

// transferKey derives the identity of a transfer from the four fields that
// together name "the same transaction": extrinsic id, both endpoints and
// the raw rao amount. Reordering and pagination jitter do not change the
// key; any change to one of the four fields does.
func transferKey(tx taostats.Transfer) string {
	var from, to string
	if tx.From != nil {
		from = tx.From.SS58
	}
	if tx.To != nil {
		to = tx.To.SS58
	}
	return strings.Join([]string{tx.ExtrinsicID, from, to, tx.Amount.String()}, "_")
}

// LastKnown holds the inbound/outbound buckets of the most recent completed
// classification cycle. It is the comparison baseline for change detection,
// not a cache: there is no TTL and it is replaced wholesale on every cycle.
type LastKnown struct {
	mu        sync.Mutex
	inbound   []taostats.Transfer
	outbound  []taostats.Transfer
	lastCheck time.Time

	now func() time.Time
}

func NewLastKnown() *LastKnown {
	return &LastKnown{now: time.Now}
}

// DetectNew returns the transfers in the current buckets whose identity key
// was absent from the corresponding previous bucket, then commits the
// current buckets as the new baseline and stamps the check time.
//
// The commit replaces the previous buckets rather than merging into them.
// A transfer that drops off the paginated window and later reappears is
// therefore reported as new again; that is the intended trade-off, do not
// "fix" it by unioning.
func (l *LastKnown) DetectNew(inbound, outbound []taostats.Transfer) (newIn, newOut []taostats.Transfer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newIn = selectNew(inbound, l.inbound)
	newOut = selectNew(outbound, l.outbound)

	l.inbound = inbound
	l.outbound = outbound
	l.lastCheck = l.now()
	return newIn, newOut
}

func selectNew(current, previous []taostats.Transfer) []taostats.Transfer {
	known := make(map[string]struct{}, len(previous))
	for _, tx := range previous {
		known[transferKey(tx)] = struct{}{}
	}

	var fresh []taostats.Transfer
	for _, tx := range current {
		if _, ok := known[transferKey(tx)]; !ok {
			fresh = append(fresh, tx)
		}
	}
	return fresh
}

// Counts reports the size of both baseline buckets and the last commit time.
func (l *LastKnown) Counts() (inbound, outbound int, lastCheck time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inbound), len(l.outbound), l.lastCheck
}
