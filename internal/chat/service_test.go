package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/memochat/internal/gateway"
	"github.com/antoniostano/memochat/internal/kv"
	"github.com/antoniostano/memochat/internal/memo"
	"github.com/antoniostano/memochat/internal/observability"
	"github.com/antoniostano/memochat/internal/prompt"
)

type stubGateway struct {
	raw      string
	err      error
	payloads []prompt.Payload
}

func (g *stubGateway) Complete(_ context.Context, p prompt.Payload) (string, error) {
	g.payloads = append(g.payloads, p)
	return g.raw, g.err
}

type brokenBackend struct {
	*kv.MemoryStore
}

func (brokenBackend) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

var fixedNow = time.Date(2024, 1, 1, 9, 50, 0, 0, time.UTC)

func newService(t *testing.T, gw gateway.Gateway, backend kv.Store) (*Service, *memo.Store, *observability.Metrics) {
	t.Helper()
	if backend == nil {
		backend = kv.NewMemoryStore()
	}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	store := memo.NewStore(backend, "memos")
	svc := NewService(gw, store,
		WithLocation(time.UTC),
		WithClock(func() time.Time { return fixedNow }),
		WithMetrics(metrics),
	)
	return svc, store, metrics
}

func TestSendTurnManagerCreatesMemo(t *testing.T) {
	gw := &stubGateway{raw: `{"reply":"Okay, noted.","memo":{"title":"call mom","time":"2024-01-01 10:00"}}`}
	svc, store, metrics := newService(t, gw, nil)

	out, err := svc.SendTurn(context.Background(), Turn{Message: "remind me to call mom in 10 minutes", Mode: "manager"})
	require.NoError(t, err)
	assert.Equal(t, "Okay, noted.", out.Text)
	assert.True(t, out.Structured)
	require.NotNil(t, out.Memo)
	assert.Equal(t, "call mom", out.Memo.Title)
	assert.Equal(t, "2024-01-01 10:00", out.Memo.Time)
	assert.False(t, out.Memo.Notified)
	assert.False(t, out.Memo.Completed)

	memos := store.List()
	require.Len(t, memos, 1)
	assert.Equal(t, out.Memo.ID, memos[0].ID)

	require.Len(t, gw.payloads, 1)
	assert.Contains(t, gw.payloads[0].Instruction, "2024-01-01 09:50")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Turns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReplyDecodes.WithLabelValues("structured")))
}

func TestSendTurnFencedReplyWithoutMemo(t *testing.T) {
	gw := &stubGateway{raw: "```json\n{\"reply\":\"hi\",\"memo\":null}\n```"}
	svc, store, _ := newService(t, gw, nil)

	out, err := svc.SendTurn(context.Background(), Turn{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, Reply{Text: "hi", Structured: true}, out)
	assert.Zero(t, store.Len())
}

func TestSendTurnPlainProseFallsBack(t *testing.T) {
	gw := &stubGateway{raw: "Sure thing, all set!"}
	svc, store, metrics := newService(t, gw, nil)

	out, err := svc.SendTurn(context.Background(), Turn{Message: "hello", Mode: "detailed"})
	require.NoError(t, err)
	assert.Equal(t, Reply{Text: "Sure thing, all set!"}, out)
	assert.Zero(t, store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReplyDecodes.WithLabelValues("fallback")))
}

func TestSendTurnSkipsUntitledMemo(t *testing.T) {
	gw := &stubGateway{raw: `{"reply":"ok","memo":{"title":"  ","time":"2024-01-01 10:00"}}`}
	svc, store, _ := newService(t, gw, nil)

	out, err := svc.SendTurn(context.Background(), Turn{Message: "x", Mode: "manager"})
	require.NoError(t, err)
	assert.Nil(t, out.Memo)
	assert.Zero(t, store.Len())
}

func TestSendTurnRejectsInvalidInput(t *testing.T) {
	gw := &stubGateway{raw: `{"reply":"x","memo":null}`}
	svc, _, _ := newService(t, gw, nil)

	_, err := svc.SendTurn(context.Background(), Turn{Message: "   "})
	assert.ErrorIs(t, err, prompt.ErrEmptyMessage)

	_, err = svc.SendTurn(context.Background(), Turn{Message: "hi", Mode: "shouting"})
	assert.ErrorIs(t, err, prompt.ErrInvalidMode)

	_, err = svc.SendTurn(context.Background(), Turn{Message: "hi", Persona: "pirate"})
	assert.ErrorIs(t, err, prompt.ErrInvalidMode)

	assert.Empty(t, gw.payloads)
}

func TestSendTurnPropagatesGatewayError(t *testing.T) {
	upstream := &gateway.UpstreamError{StatusCode: 503, Message: "overloaded"}
	gw := &stubGateway{err: upstream}
	svc, store, metrics := newService(t, gw, nil)

	_, err := svc.SendTurn(context.Background(), Turn{Message: "hi"})
	var got *gateway.UpstreamError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 503, got.StatusCode)
	assert.Zero(t, store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayErrors.WithLabelValues("upstream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Turns.WithLabelValues("upstream_error")))
}

func TestSendTurnMissingCredential(t *testing.T) {
	svc, _, _ := newService(t, &stubGateway{err: gateway.ErrMissingCredential}, nil)
	_, err := svc.SendTurn(context.Background(), Turn{Message: "hi"})
	assert.ErrorIs(t, err, gateway.ErrMissingCredential)
}

func TestSendTurnPersistFailureStillReplies(t *testing.T) {
	gw := &stubGateway{raw: `{"reply":"noted","memo":{"title":"pay rent","time":"2024-01-02 09:00"}}`}
	svc, store, _ := newService(t, gw, brokenBackend{kv.NewMemoryStore()})

	out, err := svc.SendTurn(context.Background(), Turn{Message: "remind me", Mode: "manager"})
	require.NoError(t, err)
	assert.Equal(t, "noted", out.Text)
	require.NotNil(t, out.Memo)
	assert.Equal(t, 1, store.Len())
}
