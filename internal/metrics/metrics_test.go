package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	c, _ := newTestCollector(t)
	assert.NotNil(t, c.polls)
	assert.NotNil(t, c.pollDuration)
	assert.NotNil(t, c.deliveries)
	assert.NotNil(t, c.commands)
}

func TestTwoCollectorsOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}

func TestPollMetrics(t *testing.T) {
	c, _ := newTestCollector(t)
	at := time.Unix(1700000000, 0)

	c.RecordPollSuccess(50*time.Millisecond, 7, at)
	c.RecordPollFailure(time.Second)
	c.RecordPollFailure(time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.polls.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.polls.WithLabelValues("failure")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.snapshotJobs))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.lastSuccess))
}

func TestChannelAndDeliveryMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ChannelOpened("ws")
	c.ChannelOpened("ws")
	c.ChannelClosed("ws")
	c.RecordDelivery(true)
	c.RecordDelivery(false)
	c.RecordDelivery(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.channels.WithLabelValues("ws")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.deliveries.WithLabelValues("dropped")))
}

func TestCommandAndAuthMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCommand("pause", nil)
	c.RecordCommand("pause", errors.New("boom"))
	c.RecordAuthRejection("command")
	c.RecordEnrichLookup("cache", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("pause", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("pause", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authRejected.WithLabelValues("command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enrichLookups.WithLabelValues("cache", "hit")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordPollSuccess(time.Second, 1, time.Now())
		c.RecordPollFailure(time.Second)
		c.ChannelOpened("grpc")
		c.RecordDelivery(true)
		c.RecordCommand("delete", nil)
		c.RecordAuthRejection("channel")
	})
}

func TestHandlerExposesSeries(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordPollFailure(time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `jobwatch_polls_total{result="failure"} 1`)
}
