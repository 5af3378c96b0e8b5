// Package chat runs one conversation turn: prompt, completion, normalization
// and memo extraction.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/gateway"
	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/memo"
	"github.com/antoniostano/memochat/internal/observability"
	"github.com/antoniostano/memochat/internal/prompt"
	"github.com/antoniostano/memochat/internal/redact"
	"github.com/antoniostano/memochat/internal/reply"
)

// Turn indicators counted in the latency window.
const (
	IndicatorStructured = "structured_reply"
	IndicatorFallback   = "fallback_reply"
	IndicatorMemo       = "memo_extracted"
)

type Turn struct {
	Message   string
	Mode      string
	Persona   string
	Verbosity string
}

type Reply struct {
	Text       string     `json:"reply"`
	Memo       *memo.Memo `json:"memo"`
	Structured bool       `json:"structured"`
}

type Service struct {
	gateway gateway.Gateway
	memos   *memo.Store
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

type Option func(*Service)

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(gw gateway.Gateway, memos *memo.Store, opts ...Option) *Service {
	s := &Service{
		gateway: gw,
		memos:   memos,
		loc:     time.Local,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "chat"))
	return s
}

// SendTurn returns prompt.ErrEmptyMessage or prompt.ErrInvalidMode for bad
// input and the gateway error when the completion fails. Neither case
// touches the memo store. A memo that cannot be persisted is logged and the
// reply is still returned.
func (s *Service) SendTurn(ctx context.Context, turn Turn) (Reply, error) {
	started := time.Now()

	if strings.TrimSpace(turn.Message) == "" {
		s.countTurn("invalid")
		return Reply{}, prompt.ErrEmptyMessage
	}
	settings, err := prompt.ParseMode(turn.Mode)
	if err == nil {
		settings, err = settings.Override(turn.Persona, turn.Verbosity)
	}
	if err != nil {
		s.countTurn("invalid")
		return Reply{}, err
	}

	payload, err := prompt.Build(turn.Message, settings, s.now().In(s.loc))
	if err != nil {
		s.countTurn("invalid")
		return Reply{}, err
	}

	completionStarted := time.Now()
	raw, err := s.gateway.Complete(ctx, payload)
	s.metrics.ObserveStage(observability.StageCompletion, time.Since(completionStarted))
	if err != nil {
		kind := gateway.Kind(err)
		s.countGatewayError(kind)
		s.countTurn("upstream_error")
		if errors.Is(err, gateway.ErrMissingCredential) {
			s.logger.Error("gateway is not configured", zap.Error(err))
		} else {
			s.logger.Warn("completion failed", zap.String("kind", kind), zap.Error(err))
		}
		return Reply{}, err
	}

	normalizeStarted := time.Now()
	res := reply.Normalize(raw)
	s.metrics.ObserveStage(observability.StageNormalize, time.Since(normalizeStarted))

	out := Reply{Text: res.Text, Structured: res.Structured}
	if res.Structured {
		s.metrics.CountIndicator(IndicatorStructured)
		s.countDecode("structured")
	} else {
		s.metrics.CountIndicator(IndicatorFallback)
		s.countDecode("fallback")
		s.logger.Debug("reply was not structured", zap.Error(res.Failure))
	}

	if res.Memo != nil && strings.TrimSpace(res.Memo.Title) != "" {
		persistStarted := time.Now()
		created, err := s.memos.Create(ctx, res.Memo.Title, res.Memo.Time)
		s.metrics.ObserveStage(observability.StageMemoPersist, time.Since(persistStarted))
		switch {
		case err == nil:
			out.Memo = &created
			s.metrics.CountIndicator(IndicatorMemo)
		case errors.Is(err, memo.ErrPersist):
			// Kept in memory; only the write failed.
			out.Memo = &created
			s.metrics.CountIndicator(IndicatorMemo)
			s.logger.Warn("memo persist failed", zap.String("memo_id", created.ID), zap.Error(err))
		default:
			s.logger.Warn("memo create failed", zap.String("title", redact.PII(res.Memo.Title)), zap.Error(err))
		}
	}

	s.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	s.countTurn("ok")
	s.logger.Debug("chat turn completed",
		zap.String("persona", string(settings.Persona)),
		zap.String("verbosity", string(settings.Verbosity)),
		zap.String("message", redact.PII(turn.Message)),
		zap.Bool("structured", out.Structured),
		zap.Bool("memo", out.Memo != nil),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

func (s *Service) countTurn(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Turns.WithLabelValues(outcome).Inc()
}

func (s *Service) countDecode(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReplyDecodes.WithLabelValues(result).Inc()
}

func (s *Service) countGatewayError(kind string) {
	if s.metrics == nil {
		return
	}
	s.metrics.GatewayErrors.WithLabelValues(kind).Inc()
}
