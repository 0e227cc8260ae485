package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/metrics"
	"github.com/spamwatch/spamwatch/pkg/pipeline"
)

type fakeWebhook struct {
	posted [][]goslack.Block
	err    error
}

func (f *fakeWebhook) Post(ctx context.Context, blocks []goslack.Block) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, blocks)
	return nil
}

func TestProcessDeliversMessage(t *testing.T) {
	webhook := &fakeWebhook{}
	p := NewProcessor(webhook, metrics.NewSet("notification"))

	payload := []byte(`{"event_data":{"username":"mallory","email":"m@spam.example"},"prediction":1,"score":0.873}`)
	err := p.Process(context.Background(), event.UserCreate, payload)
	require.NoError(t, err)

	require.Len(t, webhook.posted, 1)
	assert.Contains(t, blocksText(t, webhook.posted[0]), "User Created on GitLab")
}

func TestProcessDeliveryFailureIsHandled(t *testing.T) {
	webhook := &fakeWebhook{err: errors.New("webhook returned status 500")}
	p := NewProcessor(webhook, metrics.NewSet("notification"))

	payload := []byte(`{"event_data":{"username":"mallory"},"prediction":0,"score":0.1}`)
	err := p.Process(context.Background(), event.UserCreate, payload)
	assert.NoError(t, err, "delivery failures are logged, not retried")
}

func TestProcessBadEnvelopeIsPermanent(t *testing.T) {
	p := NewProcessor(&fakeWebhook{}, metrics.NewSet("notification"))

	err := p.Process(context.Background(), event.UserCreate, []byte(`{"event_data":`))
	assert.True(t, pipeline.IsPermanent(err))
}

func TestProcessUnknownKindIsPermanent(t *testing.T) {
	p := NewProcessor(&fakeWebhook{}, metrics.NewSet("notification"))

	err := p.Process(context.Background(), event.Kind("mystery"),
		[]byte(`{"event_data":{},"prediction":0,"score":0}`))
	assert.True(t, pipeline.IsPermanent(err))
}

func TestSlackWebhookPost(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	webhook := NewSlackWebhook(srv.URL, 5*time.Second)
	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, "User Created on GitLab", false, false)),
	}
	require.NoError(t, webhook.Post(context.Background(), blocks))
	assert.Contains(t, string(gotBody), "User Created on GitLab")
}

func TestSlackWebhookPostErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_blocks", http.StatusBadRequest)
	}))
	defer srv.Close()

	webhook := NewSlackWebhook(srv.URL, 5*time.Second)
	err := webhook.Post(context.Background(), []goslack.Block{})
	assert.Error(t, err)
}
