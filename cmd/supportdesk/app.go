package main

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/cache"
	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/db"
	"github.com/zhouzirui/supportdesk/backend/internal/handler"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/ai"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chatService "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
	"github.com/zhouzirui/supportdesk/backend/internal/service/rating"
	"github.com/zhouzirui/supportdesk/backend/internal/service/report"
)

// app holds the wired services of one process.
type app struct {
	services handler.Services
	closers  []func() error
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("failed to close resource")
		}
	}
}

// buildApp connects the configured backends and wires the services.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	sessions, err := a.openSessionStore(cfg.Store)
	if err != nil {
		a.Close()
		return nil, err
	}

	team, err := a.openStaffStore(ctx, cfg.Presence)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.openPublisher(cfg.Events)
	if err != nil {
		a.Close()
		return nil, err
	}

	tracker := presence.NewTracker(team, sessions, publisher)
	if err := seedRoster(ctx, tracker, cfg.Staff.RosterPath); err != nil {
		a.Close()
		return nil, err
	}

	chatSvc := chatService.NewService(sessions, publisher)
	if cfg.AI.TopicSummaryEnabled {
		if topics, err := ai.NewTopicServiceFromConfig(ctx, cfg.AI); err != nil {
			log.WithError(err).Warn("topic suggestions disabled")
		} else {
			chatSvc.WithTopicSuggester(topics)
			log.Info("topic suggestions enabled")
		}
	}

	ratings := rating.NewWorkflow(sessions, publisher, rating.Config{
		Client: rating.Bounds{Min: cfg.Rating.ClientMin, Max: cfg.Rating.ClientMax},
		QC:     rating.Bounds{Min: cfg.Rating.QCMin, Max: cfg.Rating.QCMax},
	})

	a.services = handler.Services{
		Chat:         chatSvc,
		Tracker:      tracker,
		Engine:       assignment.NewEngine(sessions, tracker, publisher),
		Ratings:      ratings,
		Reports:      report.NewService(sessions, tracker),
		PollInterval: cfg.Sync.PollInterval,
	}
	return a, nil
}

func (a *app) openSessionStore(cfg config.StoreConfig) (chat.Store, error) {
	if cfg.Backend != config.BackendPostgres {
		log.Info("using in-memory session store")
		return chat.NewMemoryStore(), nil
	}

	dbc, err := db.New(cfg.DatabaseURL, cfg.LogLevel)
	if err != nil {
		return nil, errors.WithMessage(err, "could not connect to db")
	}
	a.closers = append(a.closers, dbc.Close)
	log.Info("using postgres session store")
	return db.NewSessionStore(dbc), nil
}

func (a *app) openStaffStore(ctx context.Context, cfg config.PresenceConfig) (staff.Store, error) {
	if cfg.Backend != config.BackendRedis {
		log.Info("using in-memory staff presence")
		return staff.NewMemoryStore(nil), nil
	}

	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not connect to redis")
	}
	a.closers = append(a.closers, client.Close)
	log.WithField("addr", cfg.RedisAddr).Info("using redis staff presence")
	return cache.NewStaffStore(client, cache.DefaultPrefix), nil
}

func (a *app) openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if !cfg.Enabled() {
		return events.LogPublisher{}, nil
	}

	publisher, err := events.NewKafkaPublisher(events.KafkaOptions{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not connect to kafka")
	}
	a.closers = append(a.closers, publisher.Close)
	log.WithFields(log.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("publishing session events to kafka")
	return publisher, nil
}

// seedRoster stores every roster member. Presence of members that already
// exist is kept.
func seedRoster(ctx context.Context, tracker *presence.Tracker, path string) error {
	members, err := staff.LoadRoster(path)
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, _, err := tracker.AddMember(ctx, m); err != nil {
			return errors.WithMessagef(err, "could not store staff member %s", m.ID)
		}
	}
	log.WithField("members", len(members)).Info("staff roster loaded")
	return nil
}
