package workers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// SnosWorker schedules a SnosRun job for every block between the highest
// block already scheduled and the chain tip, capped per tick so a cold start
// against a long chain does not flood the queue.
type SnosWorker struct {
	chain     interfaces.ChainClient
	store     interfaces.JobStore
	creator   JobCreator
	batchSize int
	logger    arbor.ILogger
}

// NewSnosWorker creates the SnosRun discovery worker
func NewSnosWorker(chain interfaces.ChainClient, store interfaces.JobStore, creator JobCreator, batchSize int, logger arbor.ILogger) *SnosWorker {
	return &SnosWorker{
		chain:     chain,
		store:     store,
		creator:   creator,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (w *SnosWorker) Name() string {
	return "snos"
}

func (w *SnosWorker) Run(ctx context.Context) error {
	tip, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch chain tip: %w", err)
	}

	var start uint64
	latest, err := w.store.GetLatestJobByType(ctx, models.JobTypeSnosRun)
	switch {
	case err == nil:
		block, berr := latest.BlockNumber()
		if berr != nil {
			return berr
		}
		start = block + 1
	case errors.Is(err, models.ErrJobNotFound):
		start = 0
	default:
		return err
	}

	created := 0
	for block := start; block <= tip; block++ {
		if w.batchSize > 0 && created >= w.batchSize {
			w.logger.Debug().
				Int("batch_size", w.batchSize).
				Str("next_block", strconv.FormatUint(block, 10)).
				Msg("SNOS batch cap reached, remaining blocks wait for the next tick")
			break
		}

		_, err := w.creator.CreateJob(ctx, models.JobTypeSnosRun, strconv.FormatUint(block, 10), map[string]string{})
		if err != nil {
			if errors.Is(err, models.ErrDuplicateJob) {
				continue
			}
			return fmt.Errorf("failed to create SnosRun job for block %d: %w", block, err)
		}
		created++
	}

	if created > 0 {
		w.logger.Info().
			Int("created", created).
			Str("tip", strconv.FormatUint(tip, 10)).
			Msg("SNOS jobs scheduled")
	}
	return nil
}
