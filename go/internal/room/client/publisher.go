package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
)

// ErrRejected is returned when the server refuses a submission.
var ErrRejected = errors.New("submission rejected")

// Ack is the server's reply to an accepted submission
type Ack struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Seq int64  `json:"seq"`
}

// Publisher submits messages to a room over POST /api/signal
type Publisher struct {
	baseURL    string
	httpClient *http.Client
}

func NewPublisher(baseURL string, httpClient *http.Client) *Publisher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Publisher{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *Publisher) Submit(ctx context.Context, sub events.Submission) (Ack, error) {
	var ack Ack
	body, err := json.Marshal(sub)
	if err != nil {
		return ack, fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/signal", bytes.NewReader(body))
	if err != nil {
		return ack, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ack, fmt.Errorf("failed to submit %s: %w", sub.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return ack, fmt.Errorf("%w: %s: status %d: %s", ErrRejected, sub.Type, resp.StatusCode, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return ack, fmt.Errorf("failed to decode ack: %w", err)
	}
	return ack, nil
}

// Send encodes payload and submits it.
func (p *Publisher) Send(ctx context.Context, roomID string, t events.Type, senderID string, payload any) (Ack, error) {
	sub, err := events.NewSubmission(roomID, t, senderID, payload)
	if err != nil {
		return Ack{}, err
	}
	return p.Submit(ctx, sub)
}

func (p *Publisher) Join(ctx context.Context, roomID string, player presence.Player) (Ack, error) {
	return p.Send(ctx, roomID, events.TypeJoin, player.ID, events.PlayerPayload{Player: player})
}

func (p *Publisher) Leave(ctx context.Context, roomID, playerID string) (Ack, error) {
	return p.Send(ctx, roomID, events.TypeLeave, playerID, events.LeavePayload{PlayerID: playerID})
}
