package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetrics(reg, reg)
}

func TestMetrics(t *testing.T) {
	t.Run("记录命令与投递", func(t *testing.T) {
		m := newTestMetrics()
		m.RecordCommand("new")
		m.RecordCommand("new")
		m.RecordCommand("list")
		m.RecordDelivered()
		m.RecordDeliveryFailure("send")
		m.RecordChatSkipped("no_token")

		assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("new")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("list")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDelivered))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("send")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatsSkipped.WithLabelValues("no_token")))
	})

	t.Run("轮询统计", func(t *testing.T) {
		m := newTestMetrics()
		m.RecordPollCycle(3, 150*time.Millisecond)
		m.RecordPollCycleSkipped()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCycles))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveChats))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCyclesSkipped))
	})

	t.Run("独立注册表互不冲突", func(t *testing.T) {
		assert.NotPanics(t, func() {
			newTestMetrics()
			newTestMetrics()
		})
	})

	t.Run("暴露 Prometheus 格式", func(t *testing.T) {
		m := newTestMetrics()
		m.RecordMailboxCreated()

		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "relay_mailboxes_created_total 1")
	})
}
