package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/checkpoint"
	"github.com/ternarybob/upstream/internal/common"
)

// Service sweeps the blob spool for orphans: payloads whose upload id is
// not referenced by the current checkpoint. Orphans appear when a blob
// deletion fails (logged, never retried) during completion or clearing.
type Service struct {
	protocol *checkpoint.Protocol
	cron     *cron.Cron
	grace    time.Duration // Blobs younger than this are never swept
	logger   arbor.ILogger
	running  bool
}

// NewService creates a new janitor service
func NewService(protocol *checkpoint.Protocol, config *common.JanitorConfig, logger arbor.ILogger) *Service {
	return &Service{
		protocol: protocol,
		cron:     cron.New(),
		grace:    common.DurationOrDefault(config.MinAge, time.Hour),
		logger:   logger,
	}
}

// Start begins the sweep on the given cron schedule
func (s *Service) Start(schedule string) error {
	if s.running {
		return fmt.Errorf("janitor already running")
	}
	if schedule == "" {
		schedule = "*/10 * * * *" // Default: every 10 minutes
	}

	_, err := s.cron.AddFunc(schedule, func() {
		common.SafeGo(s.logger, "janitor-sweep", func() {
			if err := s.Sweep(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("Orphan blob sweep failed")
			}
		})
	})
	if err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", schedule).Msg("Orphan blob janitor started")
	return nil
}

// Stop halts the schedule
func (s *Service) Stop() {
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
}

// Sweep deletes every spooled payload not referenced by the live
// checkpoint. The active job's blob is always preserved, and so is any
// blob younger than the grace interval: a payload is spooled moments
// before its record is written, and sweeping inside that window would
// destroy an upload that is just starting.
func (s *Service) Sweep(ctx context.Context) error {
	blobs, err := s.protocol.Blobs().List()
	if err != nil {
		return fmt.Errorf("failed to list spooled payloads: %w", err)
	}

	activeID := ""
	if job := s.protocol.Current(ctx); job != nil {
		activeID = job.FileID
	}

	removed := 0
	for _, blob := range blobs {
		if blob.FileID == activeID {
			continue
		}
		if time.Since(blob.ModTime) < s.grace {
			continue
		}
		if err := s.protocol.Blobs().Delete(blob.FileID); err != nil {
			s.logger.Warn().Err(err).Str("file_id", blob.FileID).Msg("Failed to delete orphaned blob")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Int("scanned", len(blobs)).Msg("Orphaned blobs removed")
	}
	return nil
}
