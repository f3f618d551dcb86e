package tracker

import "github.com/taowatch/transfer-monitor/internal/taostats"

// Classify filters treasury traffic out of the fetched pages and buckets
// the rest by direction relative to the tracked address.
//
// A record missing either endpoint is skipped. A record touching the
// treasury on either side is excluded from every bucket. Inbound means the
// tracked address is the destination; that check wins, so a self-transfer
// lands in inbound only. Records matching neither endpoint stay in
// filtered but in no directional bucket.
func Classify(pages []taostats.Page, treasury, tracked string) (filtered, inbound, outbound []taostats.Transfer) {
	for _, page := range pages {
		for _, tx := range page.Data {
			if tx.From == nil || tx.To == nil || tx.From.SS58 == "" || tx.To.SS58 == "" {
				continue
			}
			from, to := tx.From.SS58, tx.To.SS58

			if from == treasury || to == treasury {
				continue
			}
			filtered = append(filtered, tx)

			switch {
			case to == tracked:
				inbound = append(inbound, tx)
			case from == tracked:
				outbound = append(outbound, tx)
			}
		}
	}
	return filtered, inbound, outbound
}
