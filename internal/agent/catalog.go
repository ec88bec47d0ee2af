package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agora-labs/agora/internal/platform"
)

// Function names agents may emit. This is the closed catalog: extraction can
// produce any name, but only these bind to dispatcher actions.
const (
	FuncCreatePost     = "create_post"
	FuncCreateComment  = "create_comment"
	FuncLikePost       = "like_post"
	FuncDislikePost    = "dislike_post"
	FuncLikeComment    = "like_comment"
	FuncDislikeComment = "dislike_comment"
	FuncFollow         = "follow"
	FuncUnfollow       = "unfollow"
	FuncRefresh        = "refresh"
	FuncDoNothing      = "do_nothing"
)

// ErrUnknownFunction is returned for names outside the catalog. Callers skip
// the call and keep the turn going.
var ErrUnknownFunction = errors.New("agent: unknown function")

type binder func(agentID int64, args json.RawMessage) (platform.Action, error)

var catalog = map[string]binder{
	FuncCreatePost:     bindArgs[platform.CreatePostArgs](platform.ActionCreatePost),
	FuncCreateComment:  bindArgs[platform.CreateCommentArgs](platform.ActionCreateComment),
	FuncLikePost:       bindArgs[platform.PostTargetArgs](platform.ActionLikePost),
	FuncDislikePost:    bindArgs[platform.PostTargetArgs](platform.ActionDislikePost),
	FuncLikeComment:    bindArgs[platform.CommentTargetArgs](platform.ActionLikeComment),
	FuncDislikeComment: bindArgs[platform.CommentTargetArgs](platform.ActionDislikeComment),
	FuncFollow:         bindArgs[platform.FollowArgs](platform.ActionFollow),
	FuncUnfollow:       bindArgs[platform.FollowArgs](platform.ActionUnfollow),
	FuncRefresh: func(agentID int64, _ json.RawMessage) (platform.Action, error) {
		return platform.Action{AgentID: agentID, Type: platform.ActionRefresh}, nil
	},
}

func bindArgs[T any](t platform.ActionType) binder {
	return func(agentID int64, raw json.RawMessage) (platform.Action, error) {
		var args T
		if err := json.Unmarshal(raw, &args); err != nil {
			return platform.Action{}, fmt.Errorf("%s: decode arguments: %w", t, err)
		}
		return platform.Action{AgentID: agentID, Type: t, Payload: args}, nil
	}
}

// BindAction maps an extracted call onto a typed dispatcher action. The bool
// is false for do_nothing, which resolves locally with no dispatcher call.
func BindAction(agentID int64, call FunctionCall) (platform.Action, bool, error) {
	if call.Name == FuncDoNothing {
		return platform.Action{}, false, nil
	}
	bind, ok := catalog[call.Name]
	if !ok {
		return platform.Action{}, false, fmt.Errorf("%w: %q", ErrUnknownFunction, call.Name)
	}
	act, err := bind(agentID, call.Arguments)
	if err != nil {
		return platform.Action{}, false, err
	}
	return act, true, nil
}
