package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/client"
	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
	"github.com/mcdev12/coopsync/go/internal/room/session"
)

// Room observer: follows a room's event stream, re-derives the shared state
// like a browser client does and logs roster, verdict and timer changes.
func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	server := flag.String("server", getEnv("COOPSYNC_SERVER", "http://localhost:8080"), "gateway base URL")
	roomID := flag.String("room", os.Getenv("COOPSYNC_ROOM"), "room id to observe")
	name := flag.String("name", "", "join the room under this name instead of observing silently")
	debug := flag.Bool("debug", false, "log every envelope")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	playerID := ""
	if *name != "" {
		playerID = uuid.New().String()
	}

	state := client.NewState(*roomID,
		client.WithSelf(playerID),
		client.WithStrictHost(true),
		client.WithTransitionHook(func(t session.Transition) {
			log.Info().
				Str("from", string(t.From)).
				Str("to", string(t.To)).
				Int64("epoch", t.Epoch).
				Msg("session transition")
		}),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	publisher := client.NewPublisher(*server, nil)
	stream := client.NewStream(*server, *roomID, playerID, nil)

	joined := false
	go stream.Run(ctx, 10*time.Second, func(env events.Envelope) {
		if !state.Apply(env) {
			return
		}
		log.Debug().Str("type", string(env.Type)).Int64("seq", env.Seq).Str("sender_id", env.SenderID).Msg("envelope applied")
		if env.Type.IsRosterOp() || env.Type == events.TypeFullState {
			logRoster(state.Players())
		}
		if env.Type == events.TypeFullState && playerID != "" && !joined {
			joined = true
			go join(ctx, publisher, *roomID, presence.Player{ID: playerID, Name: *name})
		}
	}, func(err error) {
		joined = false
	})

	go state.Run(ctx, time.Second)
	go logTimer(ctx, state)

	<-ctx.Done()
	log.Info().Msg("observer shutting down")

	if playerID != "" {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer leaveCancel()
		if _, err := publisher.Leave(leaveCtx, *roomID, playerID); err != nil {
			log.Warn().Err(err).Msg("failed to leave room")
		}
	}
}

func join(ctx context.Context, publisher *client.Publisher, roomID string, player presence.Player) {
	if _, err := publisher.Join(ctx, roomID, player); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to join room")
		return
	}
	log.Info().Str("room_id", roomID).Str("player_id", player.ID).Str("name", player.Name).Msg("joined room")
}

func logRoster(players []presence.Player) {
	names := make([]string, 0, len(players))
	ready := 0
	for _, p := range players {
		label := p.Name
		if p.IsHost {
			label += " (host)"
		}
		if p.Ready {
			ready++
		}
		names = append(names, label)
	}
	log.Info().Strs("players", names).Int("ready", ready).Msg("roster")
}

// logTimer reports the countdown every ten seconds and in the final ten.
func logTimer(ctx context.Context, state *client.State) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := state.Remaining()
			if remaining < 0 || remaining == last || state.Verdict() != session.PhaseActive {
				continue
			}
			last = remaining
			if remaining%10 == 0 || remaining <= 10 {
				log.Info().Int("remaining", remaining).Int("current_step", state.CurrentStep()).Msg("timer")
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
