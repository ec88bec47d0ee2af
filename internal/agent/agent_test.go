package agent

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agora-labs/agora/internal/channel"
	"github.com/agora-labs/agora/internal/inference"
	"github.com/agora-labs/agora/internal/platform"
	"github.com/agora-labs/agora/internal/store"
)

// fakeDispatcher serves the platform channel and records every action type
// it sees, replying success to everything.
type fakeDispatcher struct {
	ch *platform.Channel

	mu      sync.Mutex
	actions []platform.ActionType
}

func newFakeDispatcher(t *testing.T, ctx context.Context) *fakeDispatcher {
	t.Helper()
	f := &fakeDispatcher{ch: channel.New[platform.Action, platform.Result](64)}
	go func() {
		for {
			req, ok := f.ch.Receive(ctx)
			if !ok {
				return
			}
			f.mu.Lock()
			f.actions = append(f.actions, req.Payload.Type)
			f.mu.Unlock()

			res := platform.Result{Success: true}
			if req.Payload.Type == platform.ActionRefresh {
				res.Posts = []store.PostView{{PostID: 1, UserID: 9, Content: "seed post", CreatedAt: time.Unix(1714568400, 0)}}
			}
			f.ch.Reply(req.ID, res)
		}
	}()
	t.Cleanup(f.ch.Close)
	return f
}

func (f *fakeDispatcher) seen() []platform.ActionType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.ActionType(nil), f.actions...)
}

func (f *fakeDispatcher) count(t platform.ActionType) int {
	n := 0
	for _, a := range f.seen() {
		if a == t {
			n++
		}
	}
	return n
}

// fakeGenerator serves the inference channel from a scripted reply list,
// repeating the final entry once the script runs out.
type fakeGenerator struct {
	ch *inference.Channel

	mu      sync.Mutex
	replies []string
	calls   int
}

func newFakeGenerator(t *testing.T, ctx context.Context, replies ...string) *fakeGenerator {
	t.Helper()
	f := &fakeGenerator{ch: channel.New[[]inference.Message, string](64), replies: replies}
	go func() {
		for {
			req, ok := f.ch.Receive(ctx)
			if !ok {
				return
			}
			f.mu.Lock()
			reply := f.replies[min(f.calls, len(f.replies)-1)]
			f.calls++
			f.mu.Unlock()
			f.ch.Reply(req.ID, reply)
		}
	}()
	t.Cleanup(f.ch.Close)
	return f
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testProfile(id int64) Profile {
	return Profile{AgentID: id, UserName: "tester", Bio: "test persona"}
}

func TestTurnExecutesExtractedCalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	disp := newFakeDispatcher(t, ctx)
	gen := newFakeGenerator(t, ctx,
		`{"reason": "engaging", "functions": [`+
			`{"name": "create_post", "arguments": {"content": "hi"}}, `+
			`{"name": "follow", "arguments": {"followee_id": 9}}]}`)

	a := New(slog.New(slog.DiscardHandler), testProfile(1), disp.ch, gen.ch, 5)
	if err := a.PerformAction(ctx); err != nil {
		t.Fatal(err)
	}

	want := []platform.ActionType{platform.ActionRefresh, platform.ActionCreatePost, platform.ActionFollow}
	got := disp.seen()
	if len(got) != len(want) {
		t.Fatalf("dispatcher saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatcher saw %v, want %v", got, want)
		}
	}

	following := a.Following()
	if len(following) != 1 || following[0] != 9 {
		t.Errorf("mirror = %v, want [9]", following)
	}
}

func TestRetryExhaustionMakesNoActionCalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	disp := newFakeDispatcher(t, ctx)
	gen := newFakeGenerator(t, ctx, "I refuse to emit JSON.")

	const limit = 5
	a := New(slog.New(slog.DiscardHandler), testProfile(1), disp.ch, gen.ch, limit)
	if err := a.PerformAction(ctx); err != nil {
		t.Fatal(err)
	}

	if n := gen.callCount(); n != limit {
		t.Errorf("generation attempts = %d, want %d", n, limit)
	}
	// The env refresh is the only dispatcher traffic; exhaustion executes nothing.
	got := disp.seen()
	if len(got) != 1 || got[0] != platform.ActionRefresh {
		t.Errorf("dispatcher saw %v, want only the refresh", got)
	}
	// The exhausted turn still lands in history as the sentinel.
	if len(a.history) != 1 || a.history[0].reply != inference.NoResponse {
		t.Errorf("history after exhaustion = %+v", a.history)
	}
}

func TestMalformedThenValidRecovers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	disp := newFakeDispatcher(t, ctx)
	gen := newFakeGenerator(t, ctx,
		"not json at all",
		`{"functions": [{"name": "like_post", "arguments": {"post_id": 1}}]}`)

	a := New(slog.New(slog.DiscardHandler), testProfile(1), disp.ch, gen.ch, 5)
	if err := a.PerformAction(ctx); err != nil {
		t.Fatal(err)
	}

	if n := gen.callCount(); n != 2 {
		t.Errorf("generation attempts = %d, want 2", n)
	}
	if n := disp.count(platform.ActionLikePost); n != 1 {
		t.Errorf("like_post dispatched %d times, want 1", n)
	}
}

func TestUnknownFunctionSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	disp := newFakeDispatcher(t, ctx)
	gen := newFakeGenerator(t, ctx,
		`{"functions": [`+
			`{"name": "teleport", "arguments": {"dest": "mars"}}, `+
			`{"name": "like_post", "arguments": {"post_id": 1}}]}`)

	a := New(slog.New(slog.DiscardHandler), testProfile(1), disp.ch, gen.ch, 5)
	if err := a.PerformAction(ctx); err != nil {
		t.Fatal(err)
	}

	// Unknown name skipped, known one still runs.
	if n := disp.count(platform.ActionLikePost); n != 1 {
		t.Errorf("like_post dispatched %d times, want 1", n)
	}
	if len(disp.seen()) != 2 {
		t.Errorf("dispatcher saw %v, want refresh + like_post only", disp.seen())
	}
}

func TestHistoryKeepsWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	disp := newFakeDispatcher(t, ctx)
	gen := newFakeGenerator(t, ctx, `{"functions": [{"name": "do_nothing"}]}`)

	a := New(slog.New(slog.DiscardHandler), testProfile(1), disp.ch, gen.ch, 5)
	for i := 0; i < historyWindow+3; i++ {
		if err := a.PerformAction(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if len(a.history) != historyWindow {
		t.Fatalf("history length = %d, want %d", len(a.history), historyWindow)
	}
	// system + window exchanges + current prompt
	if n := len(a.messages("now")); n != 2*historyWindow+2 {
		t.Errorf("prompt carries %d messages, want %d", n, 2*historyWindow+2)
	}
}

func TestPerformActionByName(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	disp := newFakeDispatcher(t, ctx)
	gen := newFakeGenerator(t, ctx, "unused")

	a := New(slog.New(slog.DiscardHandler), testProfile(1), disp.ch, gen.ch, 5)

	res, err := a.PerformActionByName(ctx, FuncFollow, map[string]any{"followee_id": 4})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("follow rejected: %s", res.Error)
	}
	if f := a.Following(); len(f) != 1 || f[0] != 4 {
		t.Errorf("mirror = %v, want [4]", f)
	}

	if _, err := a.PerformActionByName(ctx, "teleport", nil); err == nil {
		t.Error("unknown function accepted")
	}
	if gen.callCount() != 0 {
		t.Error("interactive path touched the generator")
	}
}
