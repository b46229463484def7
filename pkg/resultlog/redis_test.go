package resultlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type state struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

func newPublisher(t *testing.T, ttl int) (*RedisPublisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	p, err := NewRedisPublisher(Config{Address: mr.Addr(), TTL: ttl})
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return p, mr, client
}

func TestPublish_SetsStateAndNotifies(t *testing.T) {
	p, mr, client := newPublisher(t, 60)
	ctx := context.Background()

	sub := client.Subscribe(ctx, p.Channel("exec-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := p.Publish(ctx, "exec-1", state{ID: "exec-1", Status: "running", Progress: 50}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	raw, err := mr.Get("tdtp:migration:execution:exec-1:state")
	if err != nil {
		t.Fatalf("state key missing: %v", err)
	}
	var got state
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "running" || got.Progress != 50 {
		t.Errorf("unexpected state: %+v", got)
	}
	if ttl := mr.TTL(p.StateKey("exec-1")); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != raw {
			t.Errorf("payload = %s, want %s", msg.Payload, raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no PUBLISH received")
	}
}

func TestStoreReport(t *testing.T) {
	p, mr, _ := newPublisher(t, 0)

	if err := p.StoreReport(context.Background(), "exec-2", map[string]int{"totalRecords": 1025}); err != nil {
		t.Fatalf("StoreReport: %v", err)
	}
	raw, err := mr.Get(p.ReportKey("exec-2"))
	if err != nil {
		t.Fatalf("report key missing: %v", err)
	}
	if raw != `{"totalRecords":1025}` {
		t.Errorf("report = %s", raw)
	}
	if mr.TTL(p.ReportKey("exec-2")) != 0 {
		t.Error("zero ttl must not expire")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Error("expected error for empty address")
	}
	if err := (Config{Address: "localhost:6379", TTL: -1}).Validate(); err == nil {
		t.Error("expected error for negative ttl")
	}
}
