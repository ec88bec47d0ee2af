// Package recsys computes the recommendation table consumed by refresh.
// Scoring is a pure function of persisted state; the dispatcher invokes it
// synchronously from update_rec_table.
package recsys

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agora-labs/agora/internal/store"
)

// Scorer ranks candidate posts for one user, best first.
type Scorer interface {
	Rank(ctx context.Context, userID int64, candidates []store.Post, now time.Time) []int64
}

// EngagementScorer is the default Scorer: recency-decayed engagement.
// Own posts are excluded; ties break toward the newer post.
type EngagementScorer struct {
	// HalfLife controls recency decay. Zero = 6 story hours.
	HalfLife time.Duration
}

// Rank implements Scorer.
func (s *EngagementScorer) Rank(_ context.Context, userID int64, candidates []store.Post, now time.Time) []int64 {
	halfLife := s.HalfLife
	if halfLife == 0 {
		halfLife = 6 * time.Hour
	}

	type scored struct {
		id        int64
		score     float64
		createdAt time.Time
	}
	ranked := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		if p.UserID == userID {
			continue
		}
		age := now.Sub(p.CreatedAt)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Hours() / halfLife.Hours())
		engagement := 1 + float64(p.NumLikes) - 0.5*float64(p.NumDislikes)
		ranked = append(ranked, scored{id: p.PostID, score: engagement * decay, createdAt: p.CreatedAt})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].createdAt.Equal(ranked[j].createdAt) {
			return ranked[i].createdAt.After(ranked[j].createdAt)
		}
		return ranked[i].id > ranked[j].id
	})

	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	return ids
}

// Table computes the full recommendation table for all users over the shared
// candidate set. Per-user scoring is CPU-bound and independent, so it fans
// out over a bounded worker pool.
func Table(ctx context.Context, scorer Scorer, userIDs []int64, candidates []store.Post, now time.Time, tableSize, workers int) (map[int64][]int64, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([][]int64, len(userIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, userID := range userIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids := scorer.Rank(ctx, userID, candidates, now)
			if tableSize > 0 && len(ids) > tableSize {
				ids = ids[:tableSize]
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := make(map[int64][]int64, len(userIDs))
	for i, userID := range userIDs {
		table[userID] = results[i]
	}
	return table, nil
}
