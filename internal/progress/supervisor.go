package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/checkpoint"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/interfaces"
	"github.com/ternarybob/upstream/internal/models"
	"golang.org/x/time/rate"
)

// Config tunes the progress channel lifecycle
type Config struct {
	URL              string
	ReconnectInitial time.Duration // Backoff floor
	ReconnectMax     time.Duration // Backoff cap
	MaxRetries       int           // Reconnect attempt ceiling
	SaveInterval     time.Duration // Minimum interval between checkpoint writes for progress events
}

// NewConfig builds the supervisor config from application configuration
func NewConfig(ws *common.WebSocketConfig) Config {
	maxRetries := ws.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 8
	}
	return Config{
		URL:              ws.URL,
		ReconnectInitial: common.DurationOrDefault(ws.ReconnectInitial, time.Second),
		ReconnectMax:     common.DurationOrDefault(ws.ReconnectMax, 30*time.Second),
		MaxRetries:       maxRetries,
		SaveInterval:     common.DurationOrDefault(ws.ProgressSaveInterval, 2*time.Second),
	}
}

// Supervisor manages the progress channel for one processing job:
// subscription, event filtering, checkpoint persistence, terminal
// detection and reconnection with bounded exponential backoff.
type Supervisor struct {
	config   Config
	protocol *checkpoint.Protocol
	dialer   *websocket.Dialer
	logger   arbor.ILogger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool // client-initiated teardown, suppresses reconnection
	running bool
	job     *models.UploadJob
	limiter *rate.Limiter
}

var _ interfaces.ProgressWatcher = (*Supervisor)(nil)

// NewSupervisor creates a progress channel supervisor
func NewSupervisor(config Config, protocol *checkpoint.Protocol, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		config:   config,
		protocol: protocol,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Start opens the channel for the given job and watches it until a
// terminal status, teardown, or reconnect exhaustion. No-op when the
// job has no server-assigned id or a watch is already running.
func (s *Supervisor) Start(ctx context.Context, job *models.UploadJob, cb interfaces.ProgressCallbacks) {
	if job == nil || job.JobID == "" {
		s.logger.Warn().Msg("Progress supervisor started without a job id, ignoring")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopped = false
	s.job = job.Clone()
	s.limiter = rate.NewLimiter(rate.Every(s.config.SaveInterval), 1)
	s.mu.Unlock()

	common.SafeGo(s.logger, "progress-supervisor", func() {
		s.run(ctx, cb)
	})
}

// Stop tears the channel down from the client side. The closure is
// marked as intentional so the read loop does not reconnect.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.conn != nil {
		s.closeConn(s.conn, websocket.CloseNormalClosure)
		s.conn = nil
	}
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Supervisor) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Supervisor) run(ctx context.Context, cb interfaces.ProgressCallbacks) {
	defer s.setRunning(false)

	attempts := 0
	backoff := s.config.ReconnectInitial

	// The failure reported on exhaustion is whatever broke the most
	// recent attempt: the dial, the subscription write, or the read loop.
	var lastErr error

	for {
		if s.isStopped() || ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			jobID := s.job.JobID
			s.mu.Unlock()

			if subErr := conn.WriteJSON(models.SubscribeMessage{Action: models.SubscribeAction, JobID: jobID}); subErr != nil {
				s.logger.Warn().Err(subErr).Str("job_id", jobID).Msg("Failed to send subscription message")
				lastErr = subErr
				conn.Close()
			} else {
				s.logger.Info().Str("job_id", jobID).Msg("Progress channel open, subscribed to job")
				attempts = 0
				backoff = s.config.ReconnectInitial

				terminal, readErr := s.readLoop(ctx, conn, cb)

				s.mu.Lock()
				s.conn = nil
				s.mu.Unlock()
				conn.Close()

				if terminal || s.isStopped() {
					return
				}
				lastErr = readErr
				s.logger.Warn().Err(readErr).Str("job_id", jobID).Msg("Progress channel closed abnormally before terminal status")
			}
		} else {
			s.logger.Warn().Err(err).Msg("Progress channel dial failed")
			lastErr = err
		}

		attempts++
		if attempts > s.config.MaxRetries {
			s.logger.Error().
				Int("attempts", attempts-1).
				Err(lastErr).
				Msg("Progress channel reconnect attempts exhausted")
			if cb.OnWatchLost != nil {
				cb.OnWatchLost(lastErr)
			}
			return
		}

		s.logger.Info().
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Msg("Reconnecting progress channel")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.config.ReconnectMax {
			backoff = s.config.ReconnectMax
		}
	}
}

// readLoop consumes events until the connection drops or a terminal
// status arrives. Returns true when the job reached a terminal status;
// otherwise the error that broke the connection.
func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn, cb interfaces.ProgressCallbacks) (bool, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Normal closure codes and client teardown end the watch for good
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Msg("Progress channel closed normally")
				return true, nil
			}
			return false, err
		}

		var event models.ProgressEvent
		if err := json.Unmarshal(data, &event); err != nil {
			// Malformed messages are dropped, never terminate the channel
			s.logger.Warn().Err(err).Str("raw", string(data)).Msg("Dropping malformed progress message")
			continue
		}

		s.mu.Lock()
		job := s.job
		s.mu.Unlock()

		if event.Type != models.ProgressMessageType || event.JobID != job.JobID {
			s.logger.Debug().
				Str("event_job_id", event.JobID).
				Str("active_job_id", job.JobID).
				Str("type", event.Type).
				Msg("Dropping irrelevant progress message")
			continue
		}

		s.mu.Lock()
		s.job.ProcessingProgress = event.Progress
		s.job.ProcessingStatus = event.Status
		snapshot := s.job.Clone()
		s.mu.Unlock()

		if event.IsTerminal() {
			// Terminal status destroys the checkpoint pair and closes the
			// channel with a normal code; no further events are expected.
			s.logger.Info().
				Str("job_id", event.JobID).
				Str("status", event.Status).
				Msg("Job reached terminal status")
			s.protocol.Clear(ctx, snapshot.FileID)

			if cb.OnEvent != nil {
				cb.OnEvent(event)
			}

			s.mu.Lock()
			s.stopped = true
			s.closeConn(conn, websocket.CloseNormalClosure)
			s.mu.Unlock()

			if cb.OnTerminal != nil {
				cb.OnTerminal(event.Status)
			}
			return true, nil
		}

		// Persist progress so a reload mid-processing resumes showing the
		// last known values. Writes are rate-limited; the in-memory view
		// is updated on every event regardless.
		if s.limiter.Allow() {
			if err := s.protocol.Save(ctx, snapshot); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to persist processing progress")
			}
		}

		if cb.OnEvent != nil {
			cb.OnEvent(event)
		}
	}
}

func (s *Supervisor) closeConn(conn *websocket.Conn, code int) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write close message")
	}
	conn.Close()
}
