// Package gateway delivers UMF envelopes to the external agent gateway.
// Every failure funnels into a soft "no reply" result; nothing here ever
// propagates an error to the message path.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/umflabs/wabridge/pkg/logger"
	"github.com/umflabs/wabridge/pkg/status"
	"github.com/umflabs/wabridge/pkg/umf"
)

// Outcome distinguishes "gateway down" from "gateway replied with
// nothing usable" so callers can treat them differently if that ever
// becomes meaningful.
type Outcome int

const (
	// Delivered means the gateway replied with usable text.
	Delivered Outcome = iota
	// Unavailable covers connection failures, timeouts and non-2xx
	// responses. The inbound message is dropped without retry.
	Unavailable
	// Malformed means the gateway answered 2xx but the body did not
	// contain a first content block with string data.
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unavailable:
		return "unavailable"
	case Malformed:
		return "malformed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type Result struct {
	Outcome Outcome
	Text    string
}

type Client struct {
	url     string
	channel string
	http    *http.Client
	record  *status.Record
}

// NewClient builds a forwarding client. The timeout is deliberately
// generous; downstream generation can take tens of seconds.
func NewClient(url, channel string, timeout time.Duration, record *status.Record) *Client {
	return &Client{
		url:     url,
		channel: channel,
		http:    &http.Client{Timeout: timeout},
		record:  record,
	}
}

// Forward POSTs the envelope and extracts the reply text. It never
// returns an error: a Result with Unavailable or Malformed is the
// caller's cue that no reply is available.
func (c *Client) Forward(ctx context.Context, env *umf.Message) Result {
	body, err := json.Marshal(env)
	if err != nil {
		logger.ErrorCF("gateway", "Failed to encode envelope", map[string]interface{}{
			"message_id": env.ID,
			"error":      err.Error(),
		})
		return Result{Outcome: Malformed}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		logger.ErrorCF("gateway", "Failed to build request", map[string]interface{}{
			"error": err.Error(),
		})
		return Result{Outcome: Unavailable}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-UMF-Channel", c.channel)
	req.Header.Set("X-UMF-Message-ID", env.ID)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			// Expected while the gateway is not running.
			logger.DebugCF("gateway", "Gateway not reachable", map[string]interface{}{
				"url": c.url,
			})
		} else {
			logger.ErrorCF("gateway", "Forward failed", map[string]interface{}{
				"message_id": env.ID,
				"error":      err.Error(),
			})
		}
		return Result{Outcome: Unavailable}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.ErrorCF("gateway", "Gateway returned non-success status", map[string]interface{}{
			"message_id": env.ID,
			"status":     resp.StatusCode,
		})
		return Result{Outcome: Unavailable}
	}

	var reply umf.Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		logger.ErrorCF("gateway", "Failed to decode gateway response", map[string]interface{}{
			"message_id": env.ID,
			"error":      err.Error(),
		})
		return Result{Outcome: Malformed}
	}

	text, ok := reply.FirstText()
	if !ok {
		logger.WarnCF("gateway", "Gateway response carried no reply text", map[string]interface{}{
			"message_id": env.ID,
		})
		return Result{Outcome: Malformed}
	}

	if c.record != nil {
		c.record.IncForwarded()
	}
	return Result{Outcome: Delivered, Text: text}
}
