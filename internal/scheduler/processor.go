package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// The processor wires asynq to the services through narrow interfaces; the
// services never see a *asynq.Task.

type Matchmaker interface {
	Sweep(ctx context.Context) error
	MatchUser(ctx context.Context, userID uuid.UUID) error
}

type MatchLifecycle interface {
	HandleMatchExpired(ctx context.Context, matchID uuid.UUID) error
}

type SessionLifecycle interface {
	HandleWarning(ctx context.Context, sessionID uuid.UUID) error
	HandleExpire(ctx context.Context, sessionID uuid.UUID) error
}

type RetentionRunner interface {
	PurgeMatches(ctx context.Context) error
	PurgeDeclines(ctx context.Context) error
	PurgeSessions(ctx context.Context) error
}

type Processor struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler

	matchmaker Matchmaker
	matches    MatchLifecycle
	sessions   SessionLifecycle
	retention  RetentionRunner
	log        zerolog.Logger
}

type ProcessorConfig struct {
	SweepInterval time.Duration
}

func NewProcessor(opt asynq.RedisClientOpt, cfg ProcessorConfig, matchmaker Matchmaker, matches MatchLifecycle, sessions SessionLifecycle, retention RetentionRunner, log zerolog.Logger) *Processor {
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			QueueSessions:  4,
			QueueMatching:  4,
			QueueRetention: 1,
		},
	})

	location, _ := time.LoadLocation("UTC")
	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: location})

	p := &Processor{
		server:     server,
		scheduler:  sched,
		matchmaker: matchmaker,
		matches:    matches,
		sessions:   sessions,
		retention:  retention,
		log:        log.With().Str("component", "processor").Logger(),
	}
	p.registerPeriodic(cfg)
	return p
}

func (p *Processor) registerPeriodic(cfg ProcessorConfig) {
	register := func(spec, taskType, queue string) {
		task := asynq.NewTask(taskType, nil)
		if _, err := p.scheduler.Register(spec, task, asynq.Queue(queue)); err != nil {
			p.log.Error().Err(err).Str("task", taskType).Msg("failed to register periodic task")
		}
	}

	register("@every "+cfg.SweepInterval.String(), TaskMatchSweep, QueueMatching)
	// Nightly retention, staggered so the purges do not contend with each
	// other or with other nightly work.
	register("0 4 * * *", TaskRetentionMatches, QueueRetention)
	register("20 4 * * *", TaskRetentionDeclines, QueueRetention)
	register("40 4 * * *", TaskRetentionSessions, QueueRetention)
}

func (p *Processor) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskMatchSweep, p.handleSweep)
	mux.HandleFunc(TaskMatchUser, p.handleMatchUser)
	mux.HandleFunc(TaskSessionWarn, p.handleSessionWarn)
	mux.HandleFunc(TaskSessionExpire, p.handleSessionExpire)
	mux.HandleFunc(TaskMatchExpire, p.handleMatchExpire)
	mux.HandleFunc(TaskRetentionMatches, func(ctx context.Context, _ *asynq.Task) error {
		return p.retention.PurgeMatches(ctx)
	})
	mux.HandleFunc(TaskRetentionDeclines, func(ctx context.Context, _ *asynq.Task) error {
		return p.retention.PurgeDeclines(ctx)
	})
	mux.HandleFunc(TaskRetentionSessions, func(ctx context.Context, _ *asynq.Task) error {
		return p.retention.PurgeSessions(ctx)
	})

	if err := p.server.Start(mux); err != nil {
		return err
	}
	if err := p.scheduler.Start(); err != nil {
		p.server.Shutdown()
		return err
	}
	p.log.Info().Msg("job processor started")
	return nil
}

func (p *Processor) Stop() {
	p.scheduler.Shutdown()
	p.server.Shutdown()
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	return p.matchmaker.Sweep(ctx)
}

func (p *Processor) handleMatchUser(ctx context.Context, task *asynq.Task) error {
	var payload UserPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		p.log.Error().Err(err).Msg("malformed matching:user payload, dropping")
		return nil
	}
	return p.matchmaker.MatchUser(ctx, payload.UserID)
}

func (p *Processor) handleSessionWarn(ctx context.Context, task *asynq.Task) error {
	var payload SessionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		p.log.Error().Err(err).Msg("malformed session:warn payload, dropping")
		return nil
	}
	return p.sessions.HandleWarning(ctx, payload.SessionID)
}

func (p *Processor) handleSessionExpire(ctx context.Context, task *asynq.Task) error {
	var payload SessionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		p.log.Error().Err(err).Msg("malformed session:expire payload, dropping")
		return nil
	}
	return p.sessions.HandleExpire(ctx, payload.SessionID)
}

func (p *Processor) handleMatchExpire(ctx context.Context, task *asynq.Task) error {
	var payload MatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		p.log.Error().Err(err).Msg("malformed match:expire payload, dropping")
		return nil
	}
	return p.matches.HandleMatchExpired(ctx, payload.MatchID)
}
