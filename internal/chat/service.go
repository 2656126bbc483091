package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go-anonchat/internal/log"
	"go-anonchat/internal/metrics"
	"go-anonchat/internal/moderation"
)

// DefaultMaxMessageLength caps message length in runes.
const DefaultMaxMessageLength = 300

// Moderator is what we need from the moderation gateway.
type Moderator interface {
	Check(ctx context.Context, message string) (*moderation.Result, error)
}

// Broadcaster fans a frame out to every open session.
type Broadcaster interface {
	BroadcastFrame(ctx context.Context, v interface{}) (int, error)
}

type ServiceConfig struct {
	MaxMessageLength int
	// FailOpen lets messages through when moderation cannot be reached.
	FailOpen bool
}

// Service is the submission pipeline shared by the websocket and HTTP
// ingress paths: validate, moderate, store, broadcast.
type Service struct {
	store     Store
	moderator Moderator
	hub       Broadcaster
	cfg       ServiceConfig
	metrics   *metrics.Metrics
}

func NewService(store Store, moderator Moderator, hub Broadcaster, cfg ServiceConfig, m *metrics.Metrics) *Service {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{store: store, moderator: moderator, hub: hub, cfg: cfg, metrics: m}
}

// Submit runs content from author through the pipeline. On success the
// message is stored and has been queued on every open session. Nothing is
// broadcast unless the store accepted it.
func (s *Service) Submit(ctx context.Context, author, content string) (*Message, error) {
	l := log.Ctx(ctx).With().Str(log.FieldUsername, author).Logger()

	if err := s.validate(content); err != nil {
		s.metrics.MessagesRejected.WithLabelValues(metrics.ReasonInvalid).Inc()
		return nil, err
	}

	res, err := s.moderator.Check(ctx, content)
	switch {
	case err == nil && res.IsProfanity:
		s.metrics.MessagesRejected.WithLabelValues(metrics.ReasonProfanity).Inc()
		l.Info().Float64("score", res.Score).Str("flagged_for", res.FlaggedFor).Msg("message rejected by moderation")
		return nil, ErrProfanity
	case err != nil && errors.Is(err, context.Canceled):
		return nil, err
	case err != nil && s.cfg.FailOpen:
		l.Warn().Err(err).Msg("moderation unavailable, letting message through")
	case err != nil:
		s.metrics.MessagesRejected.WithLabelValues(metrics.ReasonModeration).Inc()
		l.Error().Err(err).Msg("moderation unavailable, rejecting message")
		return nil, fmt.Errorf("%w: %v", ErrModerationUnavailable, err)
	}

	msg, err := s.store.Append(ctx, content, author)
	if err != nil {
		s.metrics.MessagesRejected.WithLabelValues(metrics.ReasonPersistence).Inc()
		l.Error().Err(err).Msg("failed to store message")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The message is durable now; a broadcast failure only means this
	// instance is shutting down.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	n, err := s.hub.BroadcastFrame(bctx, NewMessageFrame(content, author))
	if err != nil {
		l.Error().Err(err).Msg("broadcast failed")
	}

	s.metrics.MessagesAccepted.Inc()
	l.Debug().Int("recipients", n).Msg("message accepted")
	return msg, nil
}

func (s *Service) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
