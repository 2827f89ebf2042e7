package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sunflower/pkg/deviation"
	"github.com/Ramsey-B/sunflower/pkg/httpclient"
	"github.com/Ramsey-B/sunflower/pkg/kafka"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var got webhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), server.URL)
	require.NoError(t, notifier.Notify(context.Background(), "#grid-alerts", "demand is high"))

	assert.Equal(t, "#grid-alerts", got.Channel)
	assert.Equal(t, "demand is high", got.Text)
}

func TestWebhookNotifier_NotifyFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), server.URL)
	err := notifier.Notify(context.Background(), "#grid-alerts", "demand is high")

	var statusErr *httpclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

type fakePublisher struct {
	events []*kafka.AlertEventMessage
	err    error
}

func (p *fakePublisher) PublishAlert(_ context.Context, evt *kafka.AlertEventMessage) error {
	p.events = append(p.events, evt)
	return p.err
}

func TestKafkaNotifier_Notify(t *testing.T) {
	publisher := &fakePublisher{}
	require.NoError(t, NewKafkaNotifier(publisher).Notify(context.Background(), "#grid", "msg"))
	require.Len(t, publisher.events, 1)
	assert.Equal(t, "#grid", publisher.events[0].Channel)
	assert.Equal(t, "msg", publisher.events[0].Message)
}

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) Notify(context.Context, string, string) error {
	n.calls++
	return n.err
}

func TestMultiNotifier_DeliversToAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("webhook down")}
	ok := &recordingNotifier{}

	err := MultiNotifier{failing, ok, NewLogNotifier(testLogger())}.Notify(context.Background(), "#grid", "msg")
	assert.EqualError(t, err, "webhook down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, MultiNotifier{ok}.Notify(context.Background(), "#grid", "msg"))
}

func TestMessage(t *testing.T) {
	key := models.NewRecordKey(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), 7, "Central")
	msg := Message(key, models.SystemSIN, 115, 100, deviation.Calculate(100, 115))

	assert.Equal(t, "Demand deviation in Central (SIN) on 2025-03-14 at 07:00: demand 115 vs forecast 100, 15.00% higher", msg)
}
