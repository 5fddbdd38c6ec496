package usecase

import "context"

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalUploads          int64   `json:"total_uploads"`
	CompletedUploads      int64   `json:"completed_uploads"`
	FailedUploads         int64   `json:"failed_uploads"`
	SuccessRate           float64 `json:"success_rate"`
	AverageLabelsPerImage float64 `json:"average_labels_per_image"`
	AverageTimeToLabelsMs float64 `json:"average_time_to_labels_ms"`
	CyclesInFlight        int64   `json:"cycles_in_flight"`
}

// GetMetricsSummary aggregates classification metrics from persisted history.
func (uc *ClassificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalUploads:          aggregation.TotalCount,
		CompletedUploads:      aggregation.CompletedCount,
		FailedUploads:         aggregation.FailedCount,
		AverageLabelsPerImage: aggregation.AverageLabelCount,
		AverageTimeToLabelsMs: aggregation.AverageCompletionSeconds * 1000,
		CyclesInFlight:        uc.inFlight.Load(),
	}

	if finished := aggregation.CompletedCount + aggregation.FailedCount; finished > 0 {
		summary.SuccessRate = float64(aggregation.CompletedCount) / float64(finished)
	}

	return summary, nil
}
