package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/auth"
	"chatsync/internal/channel"
	"chatsync/internal/config"
	"chatsync/internal/engine"
	"chatsync/internal/inspect"
	"chatsync/internal/localstate"
	"chatsync/internal/logging"
	"chatsync/internal/model"
	"chatsync/internal/notify"
	"chatsync/internal/store"

	"github.com/gin-gonic/gin"
)

var log = logging.Logger("cmd")

const chatPathPrefix = "/chat/"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatsync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	state, err := localstate.Open(cfg.StateFile)
	if err != nil {
		return err
	}
	defer state.Close()

	saved, err := state.Load()
	if err != nil {
		return err
	}
	token := cfg.Token
	if token == "" {
		token = saved.Token
	} else if token != saved.Token {
		if err := localstate.Update(state, func(st *localstate.State) { st.Token = token }); err != nil {
			return err
		}
	}
	if token == "" {
		return errors.New("no credential: set CHATSYNC_TOKEN or log in with the web client first")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.New(api.Options{BaseURL: cfg.APIBaseURL, Timeout: cfg.HTTPTimeout})
	client.SetToken(token)
	session, err := auth.ResolveSession(ctx, client, token, time.Now())
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, auth.ErrTokenExpired) {
			_ = state.ClearToken()
		}
		return err
	}

	var eng *engine.Engine
	mgr := channel.NewManager(channel.Options{
		URL:          cfg.SocketURL,
		ReconnectMax: cfg.ReconnectMax,
		OnUnknown:    func(event string, args []json.RawMessage) { eng.UnknownEvent(event, args) },
		OnLost:       func(err error) { eng.ChannelLost(err) },
	})
	eng = engine.New(engine.Options{
		Backend:          client,
		Channel:          mgr,
		Credentials:      state,
		Sink:             &notify.WriterSink{W: os.Stdout},
		Sounder:          notify.BellSounder{W: os.Stdout},
		LivenessInterval: cfg.LivenessInterval,
		TypingIdle:       cfg.TypingIdle,
		TypingStale:      cfg.TypingStale,
		TypingThrottle:   cfg.TypingThrottle,
		OnTeardown: func(s model.Session, reason engine.Reason) {
			log.Infow("signed out", "user", s.ID, "reason", reason)
			stop()
		},
	})
	defer eng.Close()
	client.SetOnUnauthorized(eng.Invalidate)

	if err := eng.Start(ctx, session); err != nil {
		if !errors.Is(err, engine.ErrNotLive) {
			return err
		}
		log.Warnw("running without live updates", "error", err)
	}
	fmt.Printf("signed in as %s (%s)\n", session.Name, session.ID)

	if id, ok := strings.CutPrefix(saved.CurrentPath, chatPathPrefix); ok && id != "" {
		if err := eng.JoinConversation(ctx, id); err != nil {
			log.Warnw("restoring the last conversation failed", "conversation", id, "error", err)
		}
	}
	go persistCurrent(ctx, eng.Store(), state)

	watcher, err := localstate.Watch(state, func() {
		log.Infow("credential removed by another client, signing out")
		_ = eng.Logout()
	})
	if err != nil {
		log.Warnw("not watching the state file", "error", err)
	} else {
		defer watcher.Close()
	}

	if cfg.InspectPort > 0 {
		if cfg.InspectToken == "" {
			log.Warnw("INSPECT_PORT set without INSPECT_TOKEN, inspect server disabled")
		} else {
			router := inspect.NewRouter(inspect.Deps{View: eng, Token: cfg.InspectToken, TypingStale: cfg.TypingStale})
			go func() {
				if err := inspect.Run(ctx, cfg, router); err != nil {
					log.Errorw("inspect server stopped", "error", err)
				}
			}()
		}
	}

	go runCommands(ctx, &shell{eng: eng, state: state, out: os.Stdout}, os.Stdin)

	select {
	case <-ctx.Done():
	case <-eng.Done():
	}
	return nil
}

// persistCurrent records the open conversation so the next run reopens it.
func persistCurrent(ctx context.Context, st *store.Store, state localstate.Store) {
	changes, cancel := st.Subscribe()
	defer cancel()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Slice != store.SliceCurrent {
				continue
			}
			cur := st.Current()
			if cur == last || cur == "" {
				continue
			}
			last = cur
			err := localstate.Update(state, func(s *localstate.State) { s.CurrentPath = chatPathPrefix + cur })
			if err != nil {
				log.Warnw("saving current conversation failed", "error", err)
			}
		}
	}
}
