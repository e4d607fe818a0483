package jobs

import (
	"context"
	"testing"
	"time"

	logx "belltower/pkg/logx"
)

func TestNewRejectsBadTimezone(t *testing.T) {
	if _, err := New(logx.Nop(), "Mars/Olympus_Mons"); err == nil {
		t.Fatalf("bad timezone accepted")
	}
	if _, err := New(logx.Nop(), ""); err != nil {
		t.Fatalf("empty timezone rejected: %v", err)
	}
}

func TestCronValidatesSpecs(t *testing.T) {
	r, err := New(logx.Nop(), "UTC")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := r.Cron("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("bad spec accepted")
	}
	if err := r.Cron("", "@every 1s", func(context.Context) {}); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := r.Every("zero", 0, func(context.Context) {}); err == nil {
		t.Fatalf("zero interval accepted")
	}
	if err := r.Cron("nightly", "0 4 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("5-field spec rejected: %v", err)
	}
	if err := r.Cron("tick", "*/5 * * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("6-field spec rejected: %v", err)
	}
}

func TestRegistrationClosedAfterStart(t *testing.T) {
	r, err := New(logx.Nop(), "UTC")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	defer r.Stop(context.Background())

	if err := r.Every("late", time.Second, func(context.Context) {}); err == nil {
		t.Fatalf("registration after start accepted")
	}
}

func TestEveryJobFires(t *testing.T) {
	r, err := New(logx.Nop(), "UTC")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fired := make(chan struct{}, 8)
	if err := r.Every("heartbeat", time.Second, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("job never fired")
	}
}
