package store

import "time"

// User is a registered platform account. Users are never deleted during a run.
type User struct {
	UserID        int64
	AgentID       int64
	UserName      string
	Name          string
	Bio           string
	CreatedAt     time.Time
	NumFollowings int64
	NumFollowers  int64
}

// Post is one piece of user-authored content.
type Post struct {
	PostID      int64
	UserID      int64
	Content     string
	CreatedAt   time.Time
	NumLikes    int64
	NumDislikes int64
}

// Comment is attached to exactly one post.
type Comment struct {
	CommentID   int64
	PostID      int64
	UserID      int64
	Content     string
	CreatedAt   time.Time
	NumLikes    int64
	NumDislikes int64
}

// TraceEntry is one row of the append-only audit log. One row is written per
// accepted action; rejected actions leave no trace.
type TraceEntry struct {
	TraceID   string
	UserID    int64
	CreatedAt time.Time
	Action    string
	Info      string
}

// PostView is a post annotated with its comments, as returned by refresh.
type PostView struct {
	PostID      int64         `json:"post_id"`
	UserID      int64         `json:"user_id"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"created_at"`
	NumLikes    int64         `json:"num_likes"`
	NumDislikes int64         `json:"num_dislikes"`
	Comments    []CommentView `json:"comments"`
}

// CommentView is the comment shape embedded in a PostView.
type CommentView struct {
	CommentID int64     `json:"comment_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	NumLikes  int64     `json:"num_likes"`
}
