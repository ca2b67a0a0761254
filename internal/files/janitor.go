package files

import (
	"context"

	"go.uber.org/zap"
)

// CleanupResult summarizes one janitor pass.
type CleanupResult struct {
	TotalBytesBefore int64 `json:"totalBytesBefore"`
	TotalBytesAfter  int64 `json:"totalBytesAfter"`
	FreedBytes       int64 `json:"freedBytes"`
	DeletedFiles     int64 `json:"deletedFiles"`
}

// Cleanup deletes least-recently-accessed blobs until total recorded size is
// at or under the configured target, but never touches a file accessed within
// the retention window. A no-op while the total is under the threshold.
// Invocations are expected to be serial; no lease is taken against overlap.
func (s *Store) Cleanup(ctx context.Context) (CleanupResult, error) {
	metrics, err := s.RecomputeMetrics(ctx)
	if err != nil {
		return CleanupResult{}, err
	}

	result := CleanupResult{
		TotalBytesBefore: metrics.TotalBytes,
		TotalBytesAfter:  metrics.TotalBytes,
	}
	if s.limits.CleanupThresholdBytes <= 0 || metrics.TotalBytes <= s.limits.CleanupThresholdBytes {
		return result, nil
	}

	cutoff := s.clock().UTC().AddDate(0, 0, -s.limits.RetentionDays)
	var candidates []BlobFile
	if err := s.db.WithContext(ctx).
		Where("accessed_at < ?", cutoff).
		Order("accessed_at ASC").
		Find(&candidates).Error; err != nil {
		s.logError(opCleanup, "query_failed", err)
		return result, newServiceError(opCleanup, "query_failed", err)
	}

	remaining := metrics.TotalBytes
	for _, candidate := range candidates {
		if remaining <= s.limits.CleanupTargetBytes {
			break
		}
		if err := s.deleteRecord(ctx, candidate); err != nil {
			return result, err
		}
		remaining -= candidate.SizeBytes
		result.FreedBytes += candidate.SizeBytes
		result.DeletedFiles++
	}

	result.TotalBytesAfter = remaining
	if result.DeletedFiles > 0 {
		s.logger.Info("storage cleanup completed",
			zap.Int64("freed_bytes", result.FreedBytes),
			zap.Int64("deleted_files", result.DeletedFiles),
			zap.Int64("total_bytes_after", result.TotalBytesAfter))
	}
	return result, nil
}
