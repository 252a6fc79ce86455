package points

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// RankCalculator orders the members of a group by total points.
type RankCalculator struct {
	store   Store
	persist bool
	logger  *zap.Logger
}

// NewRankCalculator creates a calculator. When persist is true, computed
// ranks are written back onto the cached balances.
func NewRankCalculator(store Store, persist bool) *RankCalculator {
	return &RankCalculator{store: store, persist: persist, logger: zap.NewNop()}
}

// GroupRanking returns every balance in the group with Rank and TotalMembers
// set. The result may be stale by the time it is returned; callers re-fetch.
func (rc *RankCalculator) GroupRanking(ctx context.Context, groupID GroupID) ([]Balance, error) {
	balances, err := rc.store.ListBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ranked := RankBalances(balances)

	if rc.persist {
		for _, b := range ranked {
			if err := rc.store.UpdateRank(ctx, b.UserID, b.GroupID, b.Rank, b.TotalMembers); err != nil {
				rc.logger.Warn("failed to cache rank",
					zap.String("user_id", string(b.UserID)),
					zap.String("group_id", string(groupID)),
					zap.Error(err),
				)
			}
		}
	}
	return ranked, nil
}

// RankBalances sorts by TotalPoints descending, breaking ties by UserID
// ascending, and assigns distinct ranks 1..N. The input is not modified.
func RankBalances(balances []Balance) []Balance {
	ranked := make([]Balance, len(balances))
	copy(ranked, balances)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalPoints != ranked[j].TotalPoints {
			return ranked[i].TotalPoints > ranked[j].TotalPoints
		}
		return ranked[i].UserID < ranked[j].UserID
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].TotalMembers = len(ranked)
	}
	return ranked
}
