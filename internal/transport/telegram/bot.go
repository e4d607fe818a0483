// Package telegram gives the sexton a remote control surface over a
// Telegram bot: status, direct rings, melody playback and the
// emergency stop.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"belltower/internal/bell"
	"belltower/internal/core"
	logx "belltower/pkg/logx"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration
}

type Bot struct {
	cfg Config
	log logx.Logger
	svc *core.Service

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool
}

func New(cfg Config, svc *core.Service, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	t := &Bot{cfg: cfg, log: log, svc: svc, bot: b}
	t.register()
	return t, nil
}

// ownerOnly gates every command. An empty allowlist locks the bot down
// entirely rather than opening it up.
func (t *Bot) ownerOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		for _, id := range t.cfg.OwnerUserIDs {
			if id == sender.ID {
				return h(c)
			}
		}
		t.log.Warn("command from non-owner ignored",
			logx.Int64("from", sender.ID),
			logx.String("text", c.Text()),
		)
		return nil
	}
}

func (t *Bot) register() {
	t.bot.Handle("/status", t.ownerOnly(t.handleStatus))
	t.bot.Handle("/enable", t.ownerOnly(t.handleEnable))
	t.bot.Handle("/disable", t.ownerOnly(t.handleDisable))
	t.bot.Handle("/estop", t.ownerOnly(t.handleEstop))
	t.bot.Handle("/ring", t.ownerOnly(t.handleRing))
	t.bot.Handle("/play", t.ownerOnly(t.handlePlay))
	t.bot.Handle("/funeral", t.ownerOnly(t.quickPlay(bell.SlotFuneral)))
	t.bot.Handle("/masscall", t.ownerOnly(t.quickPlay(bell.SlotMassCall)))
	t.bot.Handle("/stop", t.ownerOnly(t.handleStop))
	t.bot.Handle("/melodies", t.ownerOnly(t.handleMelodies))
	t.bot.Handle("/testmode", t.ownerOnly(t.handleTestMode))
}

func (t *Bot) handleStatus(c tele.Context) error {
	st := t.svc.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "enabled: %v\nplaying: %v", st.Bell.Enabled, st.Bell.Playing)
	if st.Bell.Playing {
		fmt.Fprintf(&b, " (melody %d)", st.Bell.ActiveMelody)
	}
	fmt.Fprintf(&b, "\ntest mode: %v", st.Bell.TestMode)
	fmt.Fprintf(&b, "\ntotal rings: %d", st.Bell.TotalRings)
	if !st.Bell.LastRing.IsZero() {
		fmt.Fprintf(&b, "\nlast ring: %s", st.Bell.LastRing.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "\nmelodies: %d", st.Melodies)
	if st.Schedule != nil {
		fmt.Fprintf(&b, "\nschedule fired: %d", st.Schedule.Triggered)
		if st.Schedule.LastName != "" {
			fmt.Fprintf(&b, " (last: %s)", st.Schedule.LastName)
		}
	}
	fmt.Fprintf(&b, "\nclock: %s (%s)", st.Clock.Time.Format("15:04:05"), st.Clock.Confidence)
	return c.Send(b.String())
}

func (t *Bot) handleEnable(c tele.Context) error {
	t.svc.Enable()
	return c.Send("ringing system enabled")
}

func (t *Bot) handleDisable(c tele.Context) error {
	t.svc.Disable()
	return c.Send("ringing system disabled, outputs released")
}

func (t *Bot) handleEstop(c tele.Context) error {
	t.svc.EmergencyStop()
	return c.Send("EMERGENCY STOP: all outputs released")
}

// /ring <bell> [pulse_ms]
func (t *Bot) handleRing(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("usage: /ring <1|2> [pulse_ms]")
	}
	bellNumber, err := strconv.Atoi(args[0])
	if err != nil {
		return c.Send("usage: /ring <1|2> [pulse_ms]")
	}
	pulse := 300 * time.Millisecond
	if len(args) >= 2 {
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			return c.Send("pulse must be milliseconds")
		}
		pulse = time.Duration(ms) * time.Millisecond
	}
	if err := t.svc.Ring(bellNumber, pulse); err != nil {
		return c.Send("ring refused: " + err.Error())
	}
	return c.Send(fmt.Sprintf("bell %d rung (%dms)", bellNumber, pulse.Milliseconds()))
}

// /play <slot>
func (t *Bot) handlePlay(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("usage: /play <slot>")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		return c.Send("usage: /play <slot>")
	}
	if err := t.svc.Play(slot); err != nil {
		return c.Send("play refused: " + err.Error())
	}
	name := ""
	if v, ok := t.svc.Melody(slot); ok {
		name = " " + v.Name
	}
	return c.Send(fmt.Sprintf("playing melody %d%s", slot, name))
}

// quickPlay maps a command straight onto one of the canonical slots.
// These are the remote stand-ins for the tower's physical buttons.
func (t *Bot) quickPlay(slot int) tele.HandlerFunc {
	return func(c tele.Context) error {
		if err := t.svc.Play(slot); err != nil {
			return c.Send("play refused: " + err.Error())
		}
		name := fmt.Sprintf("melody %d", slot)
		if v, ok := t.svc.Melody(slot); ok {
			name = v.Name
		}
		return c.Send("ringing " + name)
	}
}

func (t *Bot) handleStop(c tele.Context) error {
	t.svc.StopMelody()
	return c.Send("playback stopped")
}

func (t *Bot) handleMelodies(c tele.Context) error {
	views := t.svc.Melodies()
	if len(views) == 0 {
		return c.Send("no melodies stored")
	}
	var b strings.Builder
	for _, v := range views {
		fmt.Fprintf(&b, "%d: %s (%d notes)\n", v.Slot, v.Name, len(v.Notes))
	}
	return c.Send(strings.TrimRight(b.String(), "\n"))
}

// /testmode on|off
func (t *Bot) handleTestMode(c tele.Context) error {
	args := c.Args()
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return c.Send("usage: /testmode on|off")
	}
	on := args[0] == "on"
	t.svc.SetTestMode(on)
	if on {
		return c.Send("test mode on: rings bypass the enable gate until playback stops")
	}
	return c.Send("test mode off")
}

func (t *Bot) Start(ctx context.Context) {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return
	}
	t.running = true
	rctx, cancel := context.WithCancel(ctx)
	t.runCancel = cancel
	t.runWG.Add(1)
	t.runMu.Unlock()

	go func() {
		defer t.runWG.Done()
		go func() {
			<-rctx.Done()
			t.bot.Stop()
		}()
		t.log.Info("telegram polling started")
		t.bot.Start() // blocks until Stop() is called
	}()
}

func (t *Bot) Stop(ctx context.Context) error {
	t.runMu.Lock()
	cancel := t.runCancel
	t.runCancel = nil
	wasRunning := t.running
	t.running = false
	t.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go t.bot.Stop()

	done := make(chan struct{})
	go func() {
		t.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		t.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		t.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}
