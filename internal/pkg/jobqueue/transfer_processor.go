package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/cloudhop/cloudhop/internal/pkg/transfer"
)

// processTransferRunJob drives the engine's run phase for one transfer
// job. The item loop does its own per-item error handling and rate-limit
// pacing; an error surfacing here means the run could not proceed at all.
func (q *Queue) processTransferRunJob(ctx context.Context, job *Job) error {
	payload, err := TransferRunJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid transfer run payload: %w", err)
	}

	log.Infof("[JobQueue] Running transfer job %s", payload.TransferJobUUID)

	if err := q.engine.Run(ctx, payload.TransferJobID); err != nil {
		// A wrong-phase run is a stale queue entry, not a failure worth
		// retrying.
		if errors.Is(err, transfer.ErrWrongPhase) {
			log.Warnf("[JobQueue] Transfer job %s not runnable, dropping queue entry", payload.TransferJobUUID)
			return nil
		}
		return err
	}
	return nil
}
