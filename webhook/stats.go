package webhook

import (
	"context"
	"fmt"
	"math"
)

// Stats summarizes delivery health, optionally scoped to one endpoint.
type Stats struct {
	Total       int64   `json:"total"`
	Delivered   int64   `json:"delivered"`
	Failed      int64   `json:"failed"`
	Pending     int64   `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

/* Stats computes delivered/failed/pending counts and the success rate.
 * success_rate = delivered / total * 100, rounded to two decimals, and 0
 * when there are no deliveries at all. An empty endpointID spans every
 * endpoint visible to the workspace.
 */
func (s *Service) Stats(ctx context.Context, workspaceID, endpointID string) (Stats, error) {
	counts, err := s.Repo.CountByStatus(ctx, workspaceID, endpointID)
	if err != nil {
		return Stats{}, fmt.Errorf("counting deliveries: %w", err)
	}

	st := Stats{
		Total:     counts.Total,
		Delivered: counts.Delivered,
		Failed:    counts.Failed,
		Pending:   counts.Pending,
	}
	if st.Total > 0 {
		st.SuccessRate = math.Round(float64(st.Delivered)/float64(st.Total)*100*100) / 100
	}
	return st, nil
}
