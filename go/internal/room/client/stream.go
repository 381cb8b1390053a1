package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
)

var ErrStreamClosed = errors.New("event stream closed by server")

// Stream subscribes to a room's Server-Sent Events stream
type Stream struct {
	baseURL    string
	roomID     string
	playerID   string
	httpClient *http.Client
}

// NewStream creates a stream for roomID. A nil httpClient means a client
// without timeout, since the response never completes.
func NewStream(baseURL, roomID, playerID string, httpClient *http.Client) *Stream {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Stream{
		baseURL:    strings.TrimRight(baseURL, "/"),
		roomID:     roomID,
		playerID:   playerID,
		httpClient: httpClient,
	}
}

func (s *Stream) URL() string {
	q := url.Values{}
	q.Set("roomId", s.roomID)
	if s.playerID != "" {
		q.Set("playerId", s.playerID)
	}
	return s.baseURL + "/api/signal?" + q.Encode()
}

// Subscribe opens one connection and calls fn for every envelope until the
// stream ends or ctx is done.
func (s *Stream) Subscribe(ctx context.Context, fn func(events.Envelope)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to open stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	log.Info().Str("room_id", s.roomID).Str("url", s.URL()).Msg("event stream connected")
	if err := ReadEvents(resp.Body, fn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStreamClosed
}

// Run keeps the stream subscribed, reconnecting with exponential backoff up
// to maxBackoff, until ctx is done. onReconnect runs before every retry.
func (s *Stream) Run(ctx context.Context, maxBackoff time.Duration, fn func(events.Envelope), onReconnect func(error)) {
	backoff := 500 * time.Millisecond
	for {
		start := time.Now()
		err := s.Subscribe(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxBackoff {
			backoff = 500 * time.Millisecond
		}
		if onReconnect != nil {
			onReconnect(err)
		}
		log.Warn().Err(err).Dur("backoff", backoff).Str("room_id", s.roomID).Msg("event stream lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// ReadEvents parses an SSE body. Comment lines (keep-alives) are skipped,
// multi-line data fields are joined, and frames that are not envelopes are
// logged and dropped.
func ReadEvents(r io.Reader, fn func(events.Envelope)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var data []string
	dispatch := func() {
		if len(data) == 0 {
			return
		}
		frame := strings.Join(data, "\n")
		data = data[:0]

		var env events.Envelope
		if err := json.Unmarshal([]byte(frame), &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed event frame")
			return
		}
		fn(env)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	dispatch()
	return scanner.Err()
}
