// Package agent implements the turn controller for one simulated user: it
// refreshes the user's feed, asks a generation backend what the persona would
// do, extracts function calls from the reply, and executes them through the
// platform dispatcher.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agora-labs/agora/internal/inference"
	"github.com/agora-labs/agora/internal/platform"
)

// historyWindow is the number of past exchanges kept in the prompt.
const historyWindow = 5

// Profile is the persona a controller acts as.
type Profile struct {
	AgentID  int64  `yaml:"agent_id"`
	UserName string `yaml:"user_name"`
	Name     string `yaml:"name"`
	Bio      string `yaml:"bio"`
	// Controllable agents skip autonomous turns and act only through
	// PerformActionByName.
	Controllable bool `yaml:"controllable"`
	// ActivationThresholds gates turns per story hour: the agent acts when a
	// uniform sample falls below the threshold for the current hour.
	ActivationThresholds [24]float64 `yaml:"-"`
}

// ActiveAt reports whether a sample in [0,1) activates the agent at the
// given story hour.
func (p *Profile) ActiveAt(hour int, sample float64) bool {
	return sample < p.ActivationThresholds[hour]
}

type exchange struct {
	prompt string
	reply  string
}

// Agent drives one user's turns. Not safe for concurrent turns; the
// scheduler runs at most one turn per agent at a time.
type Agent struct {
	log        *slog.Logger
	profile    Profile
	platform   *platform.Channel
	inference  *inference.Channel
	retryLimit int

	history []exchange

	// followees mirrors the user's confirmed follow edges. Read-only view of
	// dispatcher state: updated only from successful follow/unfollow replies.
	followees map[int64]struct{}
}

// New builds a turn controller. retryLimit bounds resubmissions on malformed
// model output; values below 1 are raised to 1.
func New(log *slog.Logger, profile Profile, platformCh *platform.Channel, inferenceCh *inference.Channel, retryLimit int) *Agent {
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &Agent{
		log:        log.With("component", "agent", "agent_id", profile.AgentID),
		profile:    profile,
		platform:   platformCh,
		inference:  inferenceCh,
		retryLimit: retryLimit,
		followees:  make(map[int64]struct{}),
	}
}

// Profile returns the persona this controller acts as.
func (a *Agent) Profile() Profile { return a.profile }

// Following returns the agent's confirmed followee ids.
func (a *Agent) Following() []int64 {
	out := make([]int64, 0, len(a.followees))
	for id := range a.followees {
		out = append(out, id)
	}
	return out
}

// PerformAction runs one autonomous turn: refresh, generate, extract,
// execute. Malformed model output is retried up to the limit; exhaustion
// resolves the turn with no dispatcher calls. Only channel-level failures
// (shutdown, ctx cancellation) surface as errors.
func (a *Agent) PerformAction(ctx context.Context) error {
	feed, err := a.refresh(ctx)
	if err != nil {
		return err
	}
	prompt := a.envPrompt(feed)

	calls, reply, err := a.generate(ctx, prompt)
	if err != nil {
		return err
	}
	a.remember(prompt, reply)
	if calls == nil {
		// Retries exhausted; the turn resolves without acting.
		a.log.Warn("agent.turn.exhausted", "attempts", a.retryLimit)
		return nil
	}

	for _, call := range calls {
		a.execute(ctx, call)
	}
	return nil
}

// PerformActionByName executes a single named call directly, bypassing
// generation. This is the interactive path for controllable agents.
func (a *Agent) PerformActionByName(ctx context.Context, name string, args map[string]any) (platform.Result, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return platform.Result{}, fmt.Errorf("encode arguments: %w", err)
	}
	call := FunctionCall{Name: name, Arguments: raw}
	if name == FuncDoNothing {
		return platform.Result{Success: true}, nil
	}
	act, dispatch, err := BindAction(a.profile.AgentID, call)
	if err != nil || !dispatch {
		return platform.Result{}, err
	}
	res, err := a.platform.Call(ctx, act)
	if err != nil {
		return platform.Result{}, err
	}
	a.observe(act, res)
	return res, nil
}

func (a *Agent) refresh(ctx context.Context) ([]byte, error) {
	res, err := a.platform.Call(ctx, platform.Action{
		AgentID: a.profile.AgentID,
		Type:    platform.ActionRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if !res.Success || len(res.Posts) == 0 {
		return nil, nil
	}
	feed, err := json.MarshalIndent(res.Posts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return feed, nil
}

// generate submits the prompt and extracts calls, retrying malformed output.
// A nil call slice with nil error means the retry budget ran out.
func (a *Agent) generate(ctx context.Context, prompt string) ([]FunctionCall, string, error) {
	messages := a.messages(prompt)
	for attempt := 1; attempt <= a.retryLimit; attempt++ {
		reply, err := a.inference.Call(ctx, messages)
		if err != nil {
			return nil, "", fmt.Errorf("generate: %w", err)
		}
		calls, xerr := ExtractFunctions(reply)
		if xerr == nil {
			return calls, reply, nil
		}
		a.log.Debug("agent.turn.retry", "attempt", attempt, "error", xerr)
	}
	return nil, inference.NoResponse, nil
}

func (a *Agent) execute(ctx context.Context, call FunctionCall) {
	act, dispatch, err := BindAction(a.profile.AgentID, call)
	if err != nil {
		if errors.Is(err, ErrUnknownFunction) {
			a.log.Warn("agent.action.unknown", "name", call.Name)
		} else {
			a.log.Warn("agent.action.bind_failed", "name", call.Name, "error", err)
		}
		return
	}
	if !dispatch {
		return
	}

	res, err := a.platform.Call(ctx, act)
	if err != nil {
		a.log.Warn("agent.action.failed", "action", act.Type, "error", err)
		return
	}
	if !res.Success {
		a.log.Info("agent.action.rejected", "action", act.Type, "reason", res.Error)
		return
	}
	a.observe(act, res)
}

// observe folds a confirmed dispatcher result into the local graph mirror.
func (a *Agent) observe(act platform.Action, res platform.Result) {
	if !res.Success {
		return
	}
	switch act.Type {
	case platform.ActionFollow:
		if args, ok := act.Payload.(platform.FollowArgs); ok {
			a.followees[args.FolloweeID] = struct{}{}
		}
	case platform.ActionUnfollow:
		if args, ok := act.Payload.(platform.FollowArgs); ok {
			delete(a.followees, args.FolloweeID)
		}
	}
}

func (a *Agent) remember(prompt, reply string) {
	a.history = append(a.history, exchange{prompt: prompt, reply: reply})
	if len(a.history) > historyWindow {
		a.history = a.history[len(a.history)-historyWindow:]
	}
}

func (a *Agent) messages(prompt string) []inference.Message {
	msgs := make([]inference.Message, 0, 2*len(a.history)+2)
	msgs = append(msgs, inference.Message{Role: "system", Content: a.systemPrompt()})
	for _, ex := range a.history {
		msgs = append(msgs,
			inference.Message{Role: "user", Content: ex.prompt},
			inference.Message{Role: "assistant", Content: ex.reply},
		)
	}
	return append(msgs, inference.Message{Role: "user", Content: prompt})
}

func (a *Agent) envPrompt(feed []byte) string {
	var b strings.Builder
	if len(feed) == 0 {
		b.WriteString("After refreshing, your feed shows no posts right now.\n")
	} else {
		b.WriteString("After refreshing, you see these posts:\n")
		b.Write(feed)
		b.WriteString("\n")
	}
	b.WriteString("Pick whatever actions fit your persona, or do nothing.")
	return b.String()
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a social media user.\n")
	fmt.Fprintf(&b, "Your username is %s.", a.profile.UserName)
	if a.profile.Name != "" {
		fmt.Fprintf(&b, " Your name is %s.", a.profile.Name)
	}
	if a.profile.Bio != "" {
		fmt.Fprintf(&b, "\nYour bio: %s", a.profile.Bio)
	}
	b.WriteString("\n\nRespond with a single JSON object of the form ")
	b.WriteString(`{"reason": "...", "functions": [{"name": "...", "arguments": {...}}]}.`)
	b.WriteString("\nAvailable functions:\n")
	b.WriteString(`- create_post: {"content": string}
- create_comment: {"post_id": number, "content": string}
- like_post: {"post_id": number}
- dislike_post: {"post_id": number}
- like_comment: {"comment_id": number}
- dislike_comment: {"comment_id": number}
- follow: {"followee_id": number}
- unfollow: {"followee_id": number}
- do_nothing: {}`)
	return b.String()
}
