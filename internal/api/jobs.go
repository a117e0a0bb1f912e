package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const jobTimeout = 30 * time.Minute

// startJob runs fn in the background and answers 202 with a poll URL.
// Only one job runs at a time.
func (s *Server) startJob(c echo.Context, kind string, fn func(ctx context.Context) (any, error)) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  fmt.Sprintf("A %s job is already running", job.Kind),
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from HTTP lifecycle but preserves
	// trace values. We add our own timeout for safety.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), jobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Kind:      kind,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	log := s.log.With(zap.String("job_id", jobID), zap.String("kind", kind))

	go func() {
		defer jobCancel()
		result, err := fn(jobCtx)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		job.Result = result
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Error("job failed", zap.Error(err))
			return
		}
		job.Status = "completed"
		log.Info("job completed", zap.Duration("duration", job.EndedAt.Sub(job.StartedAt)))
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": fmt.Sprintf("%s job started", kind),
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleRescore(c echo.Context) error {
	batchSize := 500
	if raw := strings.TrimSpace(c.QueryParam("batch_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 5000 {
			batchSize = parsed
		}
	}

	return s.startJob(c, "rescore", func(ctx context.Context) (any, error) {
		res, err := s.store.Rescore(ctx, batchSize)
		return map[string]interface{}{
			"scanned":         res.Scanned,
			"updated":         res.Updated,
			"batch_size_used": batchSize,
		}, err
	})
}

func (s *Server) handleExpire(c echo.Context) error {
	n, err := s.store.MarkExpired(c.Request().Context())
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}

func (s *Server) handleIngest(c echo.Context) error {
	if s.pipeline == nil || len(s.opts.Sources) == 0 {
		return errorJSON(c, http.StatusServiceUnavailable, "No ingestion sources configured")
	}

	sources := s.opts.Sources
	if names := splitCSV(c.QueryParam("source")); len(names) > 0 {
		sources = nil
		for _, src := range s.opts.Sources {
			for _, n := range names {
				if src.Config.Name == n {
					sources = append(sources, src)
				}
			}
		}
		if len(sources) != len(names) {
			return errorJSON(c, http.StatusBadRequest, "Unknown source")
		}
	}

	return s.startJob(c, "ingest", func(ctx context.Context) (any, error) {
		runs, err := s.pipeline.RunSources(ctx, sources)
		return runs, err
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}
