// Package googlechat implements the chatapi.Client port against the
// Google Chat REST API.
package googlechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/syncforge/chatbridge/internal/config"
	"github.com/syncforge/chatbridge/internal/domain/member"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/port/chatapi"
)

// Client posts messages and lists members via the Google Chat API.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// NewClient creates a Google Chat client from the Chat config.
func NewClient(cfg config.Chat) *Client {
	return &Client{
		baseURL:    cfg.APIBaseURL,
		credential: cfg.Credential,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// chatMessage is the Google Chat message resource body.
type chatMessage struct {
	Text    string      `json:"text,omitempty"`
	CardsV2 []chatCard  `json:"cardsV2,omitempty"`
	Thread  *chatThread `json:"thread,omitempty"`
}

type chatThread struct {
	ThreadKey string `json:"threadKey"`
}

type chatCard struct {
	CardID string   `json:"cardId"`
	Card   cardBody `json:"card"`
}

type cardBody struct {
	Header   cardHeader    `json:"header"`
	Sections []cardSection `json:"sections"`
}

type cardHeader struct {
	Title string `json:"title"`
}

type cardSection struct {
	Widgets []cardWidget `json:"widgets"`
}

type cardWidget struct {
	DecoratedText decoratedText `json:"decoratedText"`
}

type decoratedText struct {
	TopLabel string `json:"topLabel"`
	Text     string `json:"text"`
}

// PostMessage posts payload into the thread identified by threadKey.
// The threadKey fallback option makes the call create the thread on
// first use, which matches the derived-key design: no prior create
// round trip is needed.
func (c *Client) PostMessage(ctx context.Context, spaceID, threadKey string, payload message.Payload) (string, error) {
	msg := chatMessage{
		Text:   payload.Text,
		Thread: &chatThread{ThreadKey: threadKey},
	}
	if payload.Card != nil {
		msg.CardsV2 = []chatCard{buildCard(payload.Card)}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages?messageReplyOption=REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD&threadKey=%s",
		c.baseURL, spaceID, url.QueryEscape(threadKey))

	var resp struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

// ListMembers returns the current membership of a space.
func (c *Client) ListMembers(ctx context.Context, spaceID string) ([]member.Record, error) {
	endpoint := fmt.Sprintf("%s/%s/members", c.baseURL, spaceID)

	var resp struct {
		Memberships []struct {
			Role   string `json:"role"`
			Member struct {
				Name        string `json:"name"`
				DisplayName string `json:"displayName"`
				Email       string `json:"email"`
			} `json:"member"`
		} `json:"memberships"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	members := make([]member.Record, 0, len(resp.Memberships))
	for _, m := range resp.Memberships {
		members = append(members, member.Record{
			SpaceID:          spaceID,
			ExternalMemberID: m.Member.Name,
			Email:            m.Member.Email,
			DisplayName:      m.Member.DisplayName,
			Role:             m.Role,
			State:            member.StateActive,
			LastSync:         now,
		})
	}
	return members, nil
}

// do executes a request and classifies the outcome: network failures
// and 5xx/429 are transient, other non-2xx responses terminal.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &chatapi.Error{Message: err.Error(), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &chatapi.Error{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode chat response: %w", err)
		}
	}
	return nil
}

func buildCard(card *message.Card) chatCard {
	widgets := make([]cardWidget, 0, len(card.Widgets))
	for _, w := range card.Widgets {
		widgets = append(widgets, cardWidget{
			DecoratedText: decoratedText{TopLabel: w.Label, Text: w.Value},
		})
	}
	return chatCard{
		CardID: "task-state",
		Card: cardBody{
			Header:   cardHeader{Title: card.Title},
			Sections: []cardSection{{Widgets: widgets}},
		},
	}
}
