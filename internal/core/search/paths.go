package search

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"workbench/internal/core/walk"
	"workbench/internal/model"
)

const DefaultMaxPaths = 200

type PathQuery struct {
	Query     string
	Limit     int
	UseIgnore bool
}

type rankedPath struct {
	rel  string
	rank int
}

// Paths finds files whose path matches a substring or a glob. Basename hits
// rank ahead of directory hits.
func (e *Engine) Paths(ctx context.Context, q PathQuery) (*model.PathSearchResult, error) {
	needle := strings.TrimSpace(q.Query)
	if q.Limit <= 0 {
		q.Limit = DefaultMaxPaths
	}
	res := &model.PathSearchResult{Paths: []model.PathHit{}}
	if needle == "" {
		return res, nil
	}

	isGlob := strings.ContainsAny(needle, "*?[{")
	if isGlob && !doublestar.ValidatePattern(needle) {
		return nil, ErrInvalidPattern
	}
	lower := strings.ToLower(needle)
	deadline := time.Now().Add(e.opts.Timeout)

	var hits []rankedPath
	err := walk.Walk(e.opts.Root, walk.Options{NoIgnore: !q.UseIgnore, Rules: e.opts.Rules}, func(rel string, _ fs.DirEntry) error {
		if ctx.Err() != nil || time.Now().After(deadline) {
			res.Truncated = true
			return fs.SkipAll
		}
		rank, ok := pathRank(rel, needle, lower, isGlob)
		if ok {
			hits = append(hits, rankedPath{rel: rel, rank: rank})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		if len(hits[i].rel) != len(hits[j].rel) {
			return len(hits[i].rel) < len(hits[j].rel)
		}
		return hits[i].rel < hits[j].rel
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
		res.Truncated = true
	}
	for _, h := range hits {
		res.Paths = append(res.Paths, model.PathHit{Path: h.rel, Name: path.Base(h.rel)})
	}
	return res, nil
}

func pathRank(rel, needle, lower string, isGlob bool) (int, bool) {
	if isGlob {
		if walk.MatchGlob(needle, rel) {
			return 0, true
		}
		return 0, false
	}
	base := strings.ToLower(path.Base(rel))
	full := strings.ToLower(rel)
	switch {
	case base == lower:
		return 0, true
	case strings.HasPrefix(base, lower):
		return 1, true
	case strings.Contains(base, lower):
		return 2, true
	case strings.Contains(full, lower):
		return 3, true
	default:
		return 0, false
	}
}
