// Package twitter posts tweets through the v2 API with OAuth1 user-context
// signing. It is the notification sink for the transfer monitor.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.twitter.com"

// Status classifies the outcome of one publish attempt.
type Status string

const (
	StatusSent        Status = "sent"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
)

// Result is the outcome of one publish attempt. Never an error: the caller
// records failures in its notification history and keeps running.
type Result struct {
	Status  Status
	TweetID string
	Detail  string
}

// Credentials holds the OAuth1 consumer and access key pairs.
type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Client posts tweets, pacing itself so bursts of detected transfers do not
// trip Twitter's own write limits on top of the caller's dispatch delay.
type Client struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(creds Credentials, logger *slog.Logger) *Client {
	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)

	httpClient := config.Client(oauth1.NoContext, token)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		client:  httpClient,
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:  logger,
	}
}

// Publish posts text as a tweet and reports the outcome.
func (c *Client) Publish(ctx context.Context, text string) Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Status: StatusFailed, Detail: err.Error()}
	}

	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusFailed, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("post tweet: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("twitter rate limit reached, tweet skipped")
		return Result{Status: StatusRateLimited, Detail: "twitter rate limit reached"}
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var errResp struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		detail := errResp.Detail
		if detail == "" {
			detail = errResp.Title
		}
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("twitter API error %d: %s", resp.StatusCode, detail)}
	}

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&created)

	return Result{Status: StatusSent, TweetID: created.Data.ID}
}

// Verify checks the credentials by fetching the authenticated user.
func (c *Client) Verify(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/2/users/me", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify credentials: unexpected status %d", resp.StatusCode)
	}
	return nil
}
