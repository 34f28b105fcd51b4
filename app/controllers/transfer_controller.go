package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cloudhop/cloudhop/internal/pkg/jobqueue"
	"github.com/cloudhop/cloudhop/internal/pkg/middleware"
	"github.com/cloudhop/cloudhop/internal/pkg/transfer"
)

// HandleTransferCreate persists a new pending job for the caller
func HandleTransferCreate(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var req transfer.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	job, err := transferEngine.Create(userID, req)
	if err != nil {
		return apiError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"job_id": job.UUID,
	})
}

// HandleTransferPrepare resolves metadata and pre-checks quota for a job
func HandleTransferPrepare(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	jobUUID := c.Params("job_id")

	job, err := transferEngine.Prepare(c.Context(), jobUUID, userID)
	if err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{
		"job_id":      job.UUID,
		"status":      job.Status,
		"total_items": job.TotalItems,
		"total_bytes": job.TotalBytes,
	})
}

// HandleTransferRun enqueues the asynchronous run phase
func HandleTransferRun(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	jobUUID := c.Params("job_id")

	// Resolve and authorize before enqueueing.
	snap, err := transferEngine.Status(jobUUID, userID)
	if err != nil {
		return apiError(c, err)
	}

	payload := jobqueue.TransferRunJobPayload{
		TransferJobID:   snap.Job.ID,
		TransferJobUUID: snap.Job.UUID,
		UserID:          userID,
	}
	if _, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeTransferRun, payload.ToMap()); err != nil {
		return apiError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": snap.Job.UUID,
		"status": "accepted",
	})
}

// HandleTransferStatus serves the poll-friendly job snapshot
func HandleTransferStatus(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	jobUUID := c.Params("job_id")

	snap, err := transferEngine.Status(jobUUID, userID)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(snap)
}

// HandleTransferCancel flips a non-terminal job to cancelled
func HandleTransferCancel(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	jobUUID := c.Params("job_id")

	job, err := transferEngine.Cancel(jobUUID, userID)
	if err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{
		"job_id": job.UUID,
		"status": job.Status,
	})
}

// HandleTransferList returns the caller's jobs, newest first
func HandleTransferList(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}

	jobs, err := transferEngine.ListJobs(userID, offset, limit)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}
