// Package platform implements the action dispatcher: the single authority
// that drains the agent-facing channel and applies actions to the social
// graph. Serial processing is what makes the store lock-free — exactly one
// request mutates state at a time, in dequeue order.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agora-labs/agora/internal/channel"
	"github.com/agora-labs/agora/internal/clock"
	"github.com/agora-labs/agora/internal/metrics"
	"github.com/agora-labs/agora/internal/recsys"
	"github.com/agora-labs/agora/internal/store"
)

// Channel is the agent-facing request bus.
type Channel = channel.Channel[Action, Result]

// ErrUnknownAction reports an action type outside the catalog.
var ErrUnknownAction = errors.New("platform: unknown action")

// Config bounds the refresh feed. Values come from configuration, never
// hard-coded at call sites.
type Config struct {
	RefreshRecPostCount int
	MaxRecPostLen       int
	FollowingPostCount  int
	RecTableSize        int
	RecWorkers          int
}

// Platform owns all persisted social-graph state. Construct with New, start
// Run in its own goroutine, and stop it with an exit action.
type Platform struct {
	log    *slog.Logger
	st     *store.Store
	ch     *Channel
	clk    *clock.Clock
	scorer recsys.Scorer
	cfg    Config
	met    *metrics.Metrics
}

// New wires a Platform. met may be nil.
func New(log *slog.Logger, st *store.Store, ch *Channel, clk *clock.Clock, scorer recsys.Scorer, cfg Config, met *metrics.Metrics) *Platform {
	if cfg.RefreshRecPostCount <= 0 {
		cfg.RefreshRecPostCount = 2
	}
	if cfg.MaxRecPostLen <= 0 {
		cfg.MaxRecPostLen = 2
	}
	if cfg.FollowingPostCount <= 0 {
		cfg.FollowingPostCount = 3
	}
	if cfg.RecTableSize <= 0 {
		cfg.RecTableSize = 50
	}
	return &Platform{
		log:    log.With("component", "platform"),
		st:     st,
		ch:     ch,
		clk:    clk,
		scorer: scorer,
		cfg:    cfg,
		met:    met,
	}
}

// Run drains the channel until an exit action or context cancellation.
// A failed action is replied to and logged; it never stops the loop.
// On return admission is closed and outstanding waiters are unblocked:
// nothing submitted after the stop is ever served.
func (p *Platform) Run(ctx context.Context) error {
	defer p.ch.Terminate()

	p.log.Info("platform.started")
	for {
		req, ok := p.ch.Receive(ctx)
		if !ok {
			p.log.Info("platform.stopped", "reason", "channel closed")
			return ctx.Err()
		}

		if req.Payload.Type == ActionExit {
			p.ch.Reply(req.ID, okResult())
			p.log.Info("platform.stopped", "reason", "exit action")
			return nil
		}

		res := p.apply(ctx, req.Payload)
		status := "ok"
		if !res.Success {
			status = "rejected"
			p.log.Warn("platform.action.rejected",
				"action", string(req.Payload.Type),
				"agent", req.Payload.AgentID,
				"error", res.Error,
			)
		}
		p.met.ObserveAction(string(req.Payload.Type), status)

		if !p.ch.Reply(req.ID, res) {
			p.log.Warn("platform.reply.dropped", "request", req.ID)
		}
	}
}

// apply validates and executes one action, tracing it on success.
func (p *Platform) apply(ctx context.Context, a Action) Result {
	res, err := p.execute(ctx, a)
	if err != nil {
		return failResult(err)
	}
	if err := p.trace(a); err != nil {
		// The action is already applied; losing audit is worth surfacing loudly.
		p.log.Error("platform.trace.failed", "action", string(a.Type), "error", err)
	}
	return res
}

func (p *Platform) execute(ctx context.Context, a Action) (Result, error) {
	switch a.Type {
	case ActionSignUp:
		args, err := payload[SignUpArgs](a)
		if err != nil {
			return Result{}, err
		}
		return p.signUp(a.AgentID, args)

	case ActionCreatePost:
		args, err := payload[CreatePostArgs](a)
		if err != nil {
			return Result{}, err
		}
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		id, err := p.st.CreatePost(a.AgentID, args.Content, p.clk.Now())
		if err != nil {
			return Result{}, err
		}
		return createdResult(id), nil

	case ActionCreateComment:
		args, err := payload[CreateCommentArgs](a)
		if err != nil {
			return Result{}, err
		}
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		if err := p.requirePost(args.PostID); err != nil {
			return Result{}, err
		}
		id, err := p.st.CreateComment(args.PostID, a.AgentID, args.Content, p.clk.Now())
		if err != nil {
			return Result{}, err
		}
		return createdResult(id), nil

	case ActionLikePost, ActionDislikePost:
		args, err := payload[PostTargetArgs](a)
		if err != nil {
			return Result{}, err
		}
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		col := "num_likes"
		if a.Type == ActionDislikePost {
			col = "num_dislikes"
		}
		if err := p.st.AdjustPostCount(args.PostID, col, 1); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Result{}, fmt.Errorf("post %d: %w", args.PostID, store.ErrNotFound)
			}
			return Result{}, err
		}
		return okResult(), nil

	case ActionLikeComment, ActionDislikeComment:
		args, err := payload[CommentTargetArgs](a)
		if err != nil {
			return Result{}, err
		}
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		col := "num_likes"
		if a.Type == ActionDislikeComment {
			col = "num_dislikes"
		}
		if err := p.st.AdjustCommentCount(args.CommentID, col, 1); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Result{}, fmt.Errorf("comment %d: %w", args.CommentID, store.ErrNotFound)
			}
			return Result{}, err
		}
		return okResult(), nil

	case ActionFollow:
		args, err := payload[FollowArgs](a)
		if err != nil {
			return Result{}, err
		}
		if a.AgentID == args.FolloweeID {
			return Result{}, fmt.Errorf("user %d cannot follow themselves", a.AgentID)
		}
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		if err := p.requireUser(args.FolloweeID); err != nil {
			return Result{}, err
		}
		// Re-following an existing edge is a no-op, not an error.
		if _, err := p.st.Follow(a.AgentID, args.FolloweeID, p.clk.Now()); err != nil {
			return Result{}, err
		}
		return okResult(), nil

	case ActionUnfollow:
		args, err := payload[FollowArgs](a)
		if err != nil {
			return Result{}, err
		}
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		// Unfollowing a non-edge is a no-op, not an error.
		if _, err := p.st.Unfollow(a.AgentID, args.FolloweeID); err != nil {
			return Result{}, err
		}
		return okResult(), nil

	case ActionRefresh:
		if err := p.requireUser(a.AgentID); err != nil {
			return Result{}, err
		}
		posts, err := p.refresh(a.AgentID)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, Posts: posts}, nil

	case ActionUpdateRecTable:
		if err := p.updateRecTable(ctx); err != nil {
			return Result{}, err
		}
		return okResult(), nil

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
}

func (p *Platform) signUp(userID int64, args SignUpArgs) (Result, error) {
	exists, err := p.st.UserExists(userID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{}, fmt.Errorf("user %d already registered", userID)
	}
	u := &store.User{
		UserID:    userID,
		AgentID:   userID,
		UserName:  args.UserName,
		Name:      args.Name,
		Bio:       args.Bio,
		CreatedAt: p.clk.Now(),
	}
	if err := p.st.CreateUser(u); err != nil {
		return Result{}, err
	}
	return createdResult(userID), nil
}

// refresh composes the bounded feed: most-recent followee posts plus
// recommended posts, each annotated with a capped comment list.
func (p *Platform) refresh(userID int64) ([]store.PostView, error) {
	followee, err := p.st.RecentFolloweePosts(userID, p.cfg.FollowingPostCount)
	if err != nil {
		return nil, err
	}

	recIDs, err := p.st.RecPostIDs(userID, p.cfg.RefreshRecPostCount)
	if err != nil {
		return nil, err
	}
	rec, err := p.st.PostsByIDs(recIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(followee)+len(rec))
	feed := make([]store.PostView, 0, len(followee)+len(rec))
	for _, post := range append(followee, rec...) {
		if seen[post.PostID] {
			continue
		}
		seen[post.PostID] = true

		comments, err := p.st.CommentsForPost(post.PostID, p.cfg.MaxRecPostLen)
		if err != nil {
			return nil, err
		}
		if comments == nil {
			comments = []store.CommentView{}
		}
		feed = append(feed, store.PostView{
			PostID:      post.PostID,
			UserID:      post.UserID,
			Content:     post.Content,
			CreatedAt:   post.CreatedAt,
			NumLikes:    post.NumLikes,
			NumDislikes: post.NumDislikes,
			Comments:    comments,
		})
	}
	return feed, nil
}

// updateRecTable recomputes global rank scores and persists them for
// subsequent refresh calls. Idempotent; invoked once per tick.
func (p *Platform) updateRecTable(ctx context.Context) error {
	userIDs, err := p.st.AllUserIDs()
	if err != nil {
		return err
	}
	candidates, err := p.st.AllPosts()
	if err != nil {
		return err
	}
	table, err := recsys.Table(ctx, p.scorer, userIDs, candidates, p.clk.Now(), p.cfg.RecTableSize, p.cfg.RecWorkers)
	if err != nil {
		return err
	}
	return p.st.ReplaceRecTable(table)
}

func (p *Platform) requireUser(userID int64) error {
	exists, err := p.st.UserExists(userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return nil
}

func (p *Platform) requirePost(postID int64) error {
	exists, err := p.st.PostExists(postID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("post %d: %w", postID, store.ErrNotFound)
	}
	return nil
}

func (p *Platform) trace(a Action) error {
	info := ""
	if a.Payload != nil {
		if data, err := json.Marshal(a.Payload); err == nil {
			info = string(data)
		}
	}
	return p.st.AppendTrace(&store.TraceEntry{
		TraceID:   uuid.NewString(),
		UserID:    a.AgentID,
		CreatedAt: p.clk.Now(),
		Action:    string(a.Type),
		Info:      info,
	})
}

// payload type-asserts an action's arguments.
func payload[T any](a Action) (T, error) {
	args, ok := a.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("platform: %s payload is %T, want %T", a.Type, a.Payload, zero)
	}
	return args, nil
}
