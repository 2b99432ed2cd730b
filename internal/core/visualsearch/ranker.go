package visualsearch

import (
	"fmt"
	"sort"
)

// Rank はスコア付き候補を順序付けし、件数上限を適用した最終結果を作成する
//
// 並び順はスコアの降順、同点はタイムスタンプの昇順で解決する。フレームの
// 抽出順やストアの走査順は安定とは限らないため、ここで決定的な順序を保証
// する。limitが正の整数でない場合は ErrInvalidLimit を返す
func Rank(scored []ScoredCandidate, limit int, mode Mode) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	ordered := make([]ScoredCandidate, len(scored))
	copy(ordered, scored)

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if ordered[i].Candidate.Timestamp != ordered[j].Candidate.Timestamp {
			return ordered[i].Candidate.Timestamp < ordered[j].Candidate.Timestamp
		}
		return ordered[i].Candidate.FrameID < ordered[j].Candidate.FrameID
	})

	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	results := make([]SearchResult, 0, len(ordered))
	for _, sc := range ordered {
		results = append(results, SearchResult{
			FrameID:   sc.Candidate.FrameID,
			Timestamp: sc.Candidate.Timestamp,
			Score:     sc.Score,
			MatchType: string(mode),
			Path:      sc.Candidate.Path,
		})
	}

	return results, nil
}
