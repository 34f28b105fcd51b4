package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/cloudhop/cloudhop/app/repository"
	"github.com/cloudhop/cloudhop/internal/pkg/jobqueue"
)

// HandleQueueStats reports worker queue depth and per-status job counts.
func HandleQueueStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()

	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		return apiError(c, err)
	}
	queued, err := queue.GetQueueSize(c.Context())
	if err != nil {
		return apiError(c, err)
	}
	processing, err := queue.GetProcessingSize(c.Context())
	if err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{
		"queued":     queued,
		"processing": processing,
		"stats":      stats,
	})
}

// HandleQueueEntries lists raw queue keys with TTLs for inspection.
func HandleQueueEntries(c *fiber.Ctx) error {
	queueRepo := repository.GetGlobalRepositories().Queue

	keys, err := queueRepo.FindKeysByPatterns([]string{
		jobqueue.JobKeyPrefix + "*",
		jobqueue.JobQueueKey,
		jobqueue.JobProcessingKey,
	})
	if err != nil {
		return apiError(c, err)
	}

	entries := make([]fiber.Map, 0, len(keys))
	for _, key := range keys {
		entry := fiber.Map{"key": key}
		if ttl, err := queueRepo.GetTTL(key); err == nil {
			entry["ttl_seconds"] = int64(ttl.Seconds())
		}
		if key == jobqueue.JobQueueKey || key == jobqueue.JobProcessingKey {
			if length, err := queueRepo.GetListLength(key); err == nil {
				entry["length"] = length
			}
		}
		entries = append(entries, entry)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

// HandleQueuePurgeCompleted removes job records of finished runs from the
// queue backend. The database rows stay untouched.
func HandleQueuePurgeCompleted(c *fiber.Ctx) error {
	queueRepo := repository.GetGlobalRepositories().Queue

	keys, err := queueRepo.FindKeysByPatterns([]string{jobqueue.JobKeyPrefix + "*"})
	if err != nil {
		return apiError(c, err)
	}

	queue := jobqueue.GetManager().GetQueue()
	var purgable []string
	for _, key := range keys {
		jobID := strings.TrimPrefix(key, jobqueue.JobKeyPrefix)
		job, err := queue.GetJob(c.Context(), jobID)
		if err != nil {
			continue
		}
		if job.Status == jobqueue.JobStatusCompleted || job.Status == jobqueue.JobStatusFailed {
			purgable = append(purgable, key)
		}
	}

	deleted, err := queueRepo.DeleteKeys(purgable)
	if err != nil {
		return apiError(c, err)
	}

	log.Infof("[Queue] Purged %d finished job records", deleted)
	return c.JSON(fiber.Map{"deleted": deleted})
}
