package taostats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.taostats.io/api"

const (
	// maxPages caps pagination so one poll cycle stays bounded even for
	// very active wallets.
	maxPages  = 5
	pageLimit = 100

	// pageDelay spaces consecutive page requests to stay under the
	// Taostats per-second limit.
	pageDelay = 500 * time.Millisecond
)

// ErrRateLimited marks a 429 from the Taostats API. Callers use errors.Is
// to distinguish throttling (recoverable, may serve stale data) from real
// upstream failures.
var ErrRateLimited = errors.New("taostats: rate limited")

// Account is one endpoint of a transfer.
type Account struct {
	SS58 string `json:"ss58"`
}

// Transfer is a single TAO movement as reported by the transfer/v1
// endpoint. Amount is the raw value in rao (1 TAO = 1e9 rao); it arrives
// as a string or number depending on magnitude, so it is kept raw.
type Transfer struct {
	ExtrinsicID string      `json:"extrinsic_id"`
	BlockNumber json.Number `json:"block_number"`
	From        *Account    `json:"from"`
	To          *Account    `json:"to"`
	Amount      json.Number `json:"amount"`
	Timestamp   string      `json:"timestamp"`
}

// Page is one page of the paginated transfer listing.
type Page struct {
	Data []Transfer `json:"data"`
}

// Client fetches transfer pages from the Taostats API.
type Client struct {
	apiKey  string
	network string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, network string) *Client {
	return &Client{
		apiKey:  apiKey,
		network: network,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// AllTransfers fetches up to maxPages pages of transfers for address,
// newest first. Pagination stops early at the first empty page. A 429 on
// any page aborts the whole fetch with ErrRateLimited; partial data is
// never returned.
func (c *Client) AllTransfers(ctx context.Context, address string) ([]Page, error) {
	var pages []Page
	for n := 1; n <= maxPages; n++ {
		page, err := c.fetchPage(ctx, address, n)
		if err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}
		pages = append(pages, *page)
		if n == maxPages {
			break
		}

		timer := time.NewTimer(pageDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return pages, nil
}

func (c *Client) fetchPage(ctx context.Context, address string, page int) (*Page, error) {
	url := fmt.Sprintf("%s/transfer/v1?network=%s&address=%s&limit=%d&page=%d",
		c.baseURL, c.network, address, pageLimit, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("taostats page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("taostats page %d: %w", page, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("taostats page %d: unexpected status %d", page, resp.StatusCode)
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode taostats page %d: %w", page, err)
	}
	return &p, nil
}
