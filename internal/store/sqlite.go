// Package store persists the social graph: users, posts, comments, follow
// edges, the recommendation table, and the append-only trace log. All writes
// go through the platform dispatcher (single-writer); reads are plain SQL.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound reports that an action's target row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite handle. Safe for use from the single dispatcher
// goroutine; the connection pool is pinned to one connection so in-memory
// databases behave.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- users ---

// CreateUser inserts a user with an explicit user_id.
func (s *Store) CreateUser(u *User) error {
	_, err := s.db.Exec(
		`INSERT INTO user (user_id, agent_id, user_name, name, bio, created_at, num_followings, num_followers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.AgentID, u.UserName, u.Name, u.Bio, u.CreatedAt.Unix(), u.NumFollowings, u.NumFollowers,
	)
	if err != nil {
		return fmt.Errorf("insert user %d: %w", u.UserID, err)
	}
	return nil
}

// UserExists reports whether user_id is registered.
func (s *Store) UserExists(userID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM user WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetUser loads one user row.
func (s *Store) GetUser(userID int64) (*User, error) {
	var u User
	var created int64
	err := s.db.QueryRow(
		`SELECT user_id, agent_id, user_name, name, bio, created_at, num_followings, num_followers
		 FROM user WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.AgentID, &u.UserName, &u.Name, &u.Bio, &created, &u.NumFollowings, &u.NumFollowers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// AllUserIDs returns every registered user id in ascending order.
func (s *Store) AllUserIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT user_id FROM user ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- posts ---

// CreatePost inserts a post and returns its id.
func (s *Store) CreatePost(userID int64, content string, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO post (user_id, content, created_at) VALUES (?, ?, ?)`,
		userID, content, at.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	return res.LastInsertId()
}

// AdjustPostCount bumps num_likes or num_dislikes on one post.
func (s *Store) AdjustPostCount(postID int64, column string, delta int64) error {
	if column != "num_likes" && column != "num_dislikes" {
		return fmt.Errorf("store: bad counter column %q", column)
	}
	res, err := s.db.Exec(
		`UPDATE post SET `+column+` = `+column+` + ? WHERE post_id = ?`,
		delta, postID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustCommentCount bumps num_likes or num_dislikes on one comment.
func (s *Store) AdjustCommentCount(commentID int64, column string, delta int64) error {
	if column != "num_likes" && column != "num_dislikes" {
		return fmt.Errorf("store: bad counter column %q", column)
	}
	res, err := s.db.Exec(
		`UPDATE comment SET `+column+` = `+column+` + ? WHERE comment_id = ?`,
		delta, commentID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostExists reports whether post_id exists.
func (s *Store) PostExists(postID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM post WHERE post_id = ?`, postID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllPosts returns every post, newest first. Candidate set for scoring.
func (s *Store) AllPosts() ([]Post, error) {
	rows, err := s.db.Query(
		`SELECT post_id, user_id, content, created_at, num_likes, num_dislikes
		 FROM post ORDER BY created_at DESC, post_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// RecentFolloweePosts returns the newest posts authored by users that userID
// follows, capped at limit.
func (s *Store) RecentFolloweePosts(userID int64, limit int) ([]Post, error) {
	rows, err := s.db.Query(
		`SELECT p.post_id, p.user_id, p.content, p.created_at, p.num_likes, p.num_dislikes
		 FROM post p
		 JOIN follow f ON f.followee_id = p.user_id
		 WHERE f.follower_id = ?
		 ORDER BY p.created_at DESC, p.post_id DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// PostsByIDs loads the given posts, preserving the input order.
func (s *Store) PostsByIDs(ids []int64) ([]Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		`SELECT post_id, user_id, content, created_at, num_likes, num_dislikes
		 FROM post WHERE post_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Post, len(posts))
	for _, p := range posts {
		byID[p.PostID] = p
	}
	ordered := make([]Post, 0, len(posts))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func scanPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		var p Post
		var created int64
		if err := rows.Scan(&p.PostID, &p.UserID, &p.Content, &created, &p.NumLikes, &p.NumDislikes); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(created, 0).UTC()
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// --- comments ---

// CreateComment inserts a comment and returns its id.
func (s *Store) CreateComment(postID, userID int64, content string, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO comment (post_id, user_id, content, created_at) VALUES (?, ?, ?, ?)`,
		postID, userID, content, at.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	return res.LastInsertId()
}

// CommentsForPost returns the oldest comments on a post, capped at limit.
func (s *Store) CommentsForPost(postID int64, limit int) ([]CommentView, error) {
	rows, err := s.db.Query(
		`SELECT comment_id, user_id, content, created_at, num_likes
		 FROM comment WHERE post_id = ?
		 ORDER BY created_at ASC, comment_id ASC
		 LIMIT ?`, postID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []CommentView
	for rows.Next() {
		var c CommentView
		var created int64
		if err := rows.Scan(&c.CommentID, &c.UserID, &c.Content, &created, &c.NumLikes); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- follow edges ---

// Follow inserts the (follower, followee) edge and bumps both counters.
// Reports created=false without error when the edge already exists.
func (s *Store) Follow(followerID, followeeID int64, at time.Time) (created bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO follow (follower_id, followee_id, created_at) VALUES (?, ?, ?)`,
		followerID, followeeID, at.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if _, err := tx.Exec(`UPDATE user SET num_followings = num_followings + 1 WHERE user_id = ?`, followerID); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`UPDATE user SET num_followers = num_followers + 1 WHERE user_id = ?`, followeeID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Unfollow removes the edge and decrements both counters.
// Reports removed=false without error when no edge existed.
func (s *Store) Unfollow(followerID, followeeID int64) (removed bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`DELETE FROM follow WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if _, err := tx.Exec(`UPDATE user SET num_followings = num_followings - 1 WHERE user_id = ?`, followerID); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`UPDATE user SET num_followers = num_followers - 1 WHERE user_id = ?`, followeeID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// FollowEdgeCount returns the number of (follower, followee) rows for a pair.
func (s *Store) FollowEdgeCount(followerID, followeeID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM follow WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID,
	).Scan(&n)
	return n, err
}

// --- recommendation table ---

// ReplaceRecTable atomically swaps the global recommendation table.
// entries maps user id to ranked post ids, best first.
func (s *Store) ReplaceRecTable(entries map[int64][]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rec`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO rec (user_id, post_id, rank) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for userID, postIDs := range entries {
		for rank, postID := range postIDs {
			if _, err := stmt.Exec(userID, postID, rank); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// RecPostIDs returns the ranked post ids for userID, best first, capped at limit.
func (s *Store) RecPostIDs(userID int64, limit int) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT post_id FROM rec WHERE user_id = ? ORDER BY rank ASC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- trace ---

// AppendTrace writes one audit row. Trace rows are never updated or deleted.
func (s *Store) AppendTrace(t *TraceEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO trace (trace_id, user_id, created_at, action, info) VALUES (?, ?, ?, ?, ?)`,
		t.TraceID, t.UserID, t.CreatedAt.Unix(), t.Action, t.Info,
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// TraceCount returns the number of trace rows for one action kind.
func (s *Store) TraceCount(action string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trace WHERE action = ?`, action).Scan(&n)
	return n, err
}
