package platform

import "github.com/agora-labs/agora/internal/store"

// ActionType enumerates the closed set of platform actions. The dispatcher
// rejects anything outside this set, so a bad name can never reach the store.
type ActionType string

const (
	ActionSignUp         ActionType = "sign_up"
	ActionCreatePost     ActionType = "create_post"
	ActionCreateComment  ActionType = "create_comment"
	ActionLikePost       ActionType = "like_post"
	ActionDislikePost    ActionType = "dislike_post"
	ActionLikeComment    ActionType = "like_comment"
	ActionDislikeComment ActionType = "dislike_comment"
	ActionFollow         ActionType = "follow"
	ActionUnfollow       ActionType = "unfollow"
	ActionRefresh        ActionType = "refresh"
	ActionUpdateRecTable ActionType = "update_rec_table"
	// ActionExit stops the dispatcher loop after the current request.
	ActionExit ActionType = "exit"
)

// Action is one request to the dispatcher. Payload carries the typed
// arguments for Type; actions without arguments leave it nil.
type Action struct {
	// AgentID is the acting user. Ignored for update_rec_table and exit.
	AgentID int64
	Type    ActionType
	Payload any
}

// SignUpArgs registers a new user account.
type SignUpArgs struct {
	UserName string `json:"user_name"`
	Name     string `json:"name"`
	Bio      string `json:"bio"`
}

// CreatePostArgs publishes a new post.
type CreatePostArgs struct {
	Content string `json:"content"`
}

// CreateCommentArgs attaches a comment to a post.
type CreateCommentArgs struct {
	PostID  int64  `json:"post_id"`
	Content string `json:"content"`
}

// PostTargetArgs addresses a post (like/dislike).
type PostTargetArgs struct {
	PostID int64 `json:"post_id"`
}

// CommentTargetArgs addresses a comment (like/dislike).
type CommentTargetArgs struct {
	CommentID int64 `json:"comment_id"`
}

// FollowArgs addresses another user (follow/unfollow).
type FollowArgs struct {
	FolloweeID int64 `json:"followee_id"`
}

// Result is the dispatcher's reply. Exactly one of the data fields is
// populated depending on the action; Error is set when Success is false.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// ID of the created entity (post, comment, user).
	ID int64 `json:"id,omitempty"`
	// Posts is the refresh feed.
	Posts []store.PostView `json:"posts,omitempty"`
}

func okResult() Result {
	return Result{Success: true}
}

func createdResult(id int64) Result {
	return Result{Success: true, ID: id}
}

func failResult(err error) Result {
	return Result{Success: false, Error: err.Error()}
}
