// Package messenger delivers outbound messages over the chat channel's
// HTTP API and fetches inbound media content.
//
// Reply consumes the single-use reply token carried on an inbound event;
// Push is the out-of-band send used for follow-up messages after the
// token has been spent.
package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	deliveryTimeout = 10 * time.Second
	fetchTimeout    = 20 * time.Second

	// maxBinarySize bounds fetched media content (10 MiB).
	maxBinarySize = 10 << 20
)

// Client talks to the messaging channel's reply and push endpoints.
type Client struct {
	replyURL    string
	pushURL     string
	accessToken string
	http        *http.Client
}

func NewClient(replyURL, pushURL, accessToken string) *Client {
	return &Client{
		replyURL:    replyURL,
		pushURL:     pushURL,
		accessToken: accessToken,
		http:        &http.Client{Timeout: deliveryTimeout},
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyPayload struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushPayload struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Reply sends text on the synchronous reply channel. The token is
// single-use; a second Reply with the same token will be rejected by
// the channel.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	payload := replyPayload{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	return c.send(ctx, c.replyURL, payload)
}

// Push sends text to a recipient outside the reply window.
func (c *Client) Push(ctx context.Context, recipient, text string) error {
	payload := pushPayload{
		To:       recipient,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	return c.send(ctx, c.pushURL, payload)
}

func (c *Client) send(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delivering message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("message delivery failed: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// HTTPFetcher downloads media content referenced by inbound events.
type HTTPFetcher struct {
	accessToken string
	http        *http.Client
}

func NewHTTPFetcher(accessToken string) *HTTPFetcher {
	return &HTTPFetcher{
		accessToken: accessToken,
		http:        &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch downloads the content at ref and returns its bytes and content type.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.accessToken)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("content fetch failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBinarySize))
	if err != nil {
		return nil, "", fmt.Errorf("reading content body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// VerifySignature checks the HMAC-SHA256 signature of an inbound webhook
// body against the channel secret. The signature header carries the
// base64-encoded digest.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
