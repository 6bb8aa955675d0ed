package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/emit"
	"github.com/repovet/repovet/internal/pipeline"
)

// startWorkers launches the scan worker pool. The pool size is the
// concurrency cap; the queue in front of it absorbs bursts.
func (s *Server) startWorkers(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		s.workerWG.Add(1)
		go s.worker(ctx)
	}
}

// worker pulls queued scans until the context is cancelled. Jobs still
// queued at shutdown keep their pending records; a restart does not resume
// them, the operator re-submits.
func (s *Server) worker(ctx context.Context) {
	defer s.workerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.runScan(ctx, j)
		}
	}
}

// runScan drives one queued scan through the pipeline and records the
// outcome. The pipeline owns scan lifecycle audit logging; this layer owns
// persistence, metrics, and event emission.
func (s *Server) runScan(ctx context.Context, j job) {
	start := time.Now()
	sc := s.scannerPtr.Load()

	if err := s.db.MarkProcessing(j.id); err != nil {
		// Record vanished or was already terminal; nothing to scan.
		s.logger.LogScanFailed(j.repoURL, j.id, pipeline.CategoryInternalError, err)
		return
	}

	s.metrics.IncrActiveScans()
	defer s.metrics.DecrActiveScans()

	out, err := sc.Scan(ctx, j.id, j.repoURL)
	if err != nil {
		s.finishFailed(ctx, j, pipeline.Category(err), err, time.Since(start))
		return
	}

	res := out.Result
	repo := out.Snapshot.Ref.String()
	if err := s.db.CompleteScan(j.id, res); err != nil {
		// The result must not be half-persisted. Discard it and surface a
		// generic failure; the scan itself already logged completion, so
		// log the persistence failure separately.
		perr := fmt.Errorf("persist scan result: %w", err)
		s.logger.LogScanFailed(repo, j.id, pipeline.CategoryInternalError, perr)
		s.finishFailed(ctx, j, pipeline.CategoryInternalError, perr, time.Since(start))
		return
	}

	for _, part := range out.Degraded {
		s.metrics.RecordFetchFailure(part)
	}
	s.metrics.RecordScanCompleted(repo, out.Duration, res.SafetyScore, res.LegitimacyScore, res.OverallScore)
	s.recordFindings(res.Summary)

	if len(out.Degraded) > 0 {
		s.emitter.Emit(ctx, "fetch_degraded", map[string]any{
			"scan_id": j.id,
			"repo":    repo,
			"parts":   strings.Join(out.Degraded, ","),
		})
	}
	s.emitter.EmitWithSeverity(ctx, emit.ScanOutcomeSeverity(res.OverallScore, res.Summary.CriticalCount), "scan_completed", map[string]any{
		"scan_id":          j.id,
		"repo":             repo,
		"overall_score":    res.OverallScore,
		"safety_score":     res.SafetyScore,
		"legitimacy_score": res.LegitimacyScore,
		"confidence":       res.Confidence,
		"findings":         res.Summary.TotalCount,
	})
}

// finishFailed marks the record failed and reports the failure. Internal
// errors additionally go to Sentry when a DSN is configured; invalid input
// and missing repositories are expected outcomes, not defects.
func (s *Server) finishFailed(ctx context.Context, j job, category string, err error, duration time.Duration) {
	if ferr := s.db.FailScan(j.id, category, err.Error()); ferr != nil {
		s.logger.LogScanFailed(j.repoURL, j.id, pipeline.CategoryInternalError, ferr)
	}
	s.metrics.RecordScanFailed(duration)
	if category == pipeline.CategoryInternalError {
		sentry.CaptureException(err)
	}
	s.emitter.Emit(ctx, "scan_failed", map[string]any{
		"scan_id":  j.id,
		"repo":     j.repoURL,
		"category": category,
		"error":    err.Error(),
	})
}

// recordFindings exports per-severity finding counts.
func (s *Server) recordFindings(sum analyze.Summary) {
	s.metrics.AddFindings(string(analyze.SeverityCritical), sum.CriticalCount)
	s.metrics.AddFindings(string(analyze.SeverityHigh), sum.HighCount)
	s.metrics.AddFindings(string(analyze.SeverityMedium), sum.MediumCount)
	s.metrics.AddFindings(string(analyze.SeverityLow), sum.LowCount)
}
