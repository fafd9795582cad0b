package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/service"
)

type webhook struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	status int
}

func (w *webhook) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var payload struct {
			Embeds []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			} `json:"embeds"`
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.mu.Lock()
		for _, e := range payload.Embeds {
			w.titles = append(w.titles, e.Title)
			w.bodies = append(w.bodies, e.Description)
		}
		status := w.status
		w.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		rw.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type console struct {
	sent []string
	err  error
}

func (c *console) SendCommand(text string) error {
	c.sent = append(c.sent, text)
	return c.err
}

func notifyConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg, _, _ := setup(t)
	cfg.Notifications.DiscordWebhook = url
	return cfg
}

func TestNotificationSendsEmbeds(t *testing.T) {
	hook := &webhook{}
	srv := hook.serve(t)
	svc := service.NewNotification(notifyConfig(t, srv.URL), nil, nil)

	require.NoError(t, svc.SendSuccess(context.Background(), "plugins installed"))
	require.NoError(t, svc.SendError(context.Background(), "install failed"))
	assert.Equal(t, []string{"Success", "Error"}, hook.titles)
	assert.Equal(t, []string{"plugins installed", "install failed"}, hook.bodies)
}

func TestNotificationWebhookError(t *testing.T) {
	hook := &webhook{status: http.StatusBadRequest}
	srv := hook.serve(t)
	svc := service.NewNotification(notifyConfig(t, srv.URL), nil, nil)

	var apiErr *domain.APIError
	require.ErrorAs(t, svc.SendError(context.Background(), "x"), &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestNotificationSendCrash(t *testing.T) {
	hook := &webhook{}
	srv := hook.serve(t)
	tail := func(n int) []domain.LogLine {
		assert.Positive(t, n)
		return []domain.LogLine{{Text: "[12:00:02 ERROR]: Encountered an unexpected exception"}}
	}
	svc := service.NewNotification(notifyConfig(t, srv.URL), tail, nil)

	require.NoError(t, svc.SendCrash(context.Background(), domain.ServerStatus{
		State: domain.StateCrashed, LastError: "exit status 3",
	}))
	require.Len(t, hook.bodies, 1)
	assert.Equal(t, "Server Crashed", hook.titles[0])
	assert.Contains(t, hook.bodies[0], "exit status 3")
	assert.Contains(t, hook.bodies[0], "unexpected exception")
}

func TestNotificationDisabledAndDryRun(t *testing.T) {
	hook := &webhook{}
	srv := hook.serve(t)

	cfg := notifyConfig(t, srv.URL)
	cfg.Notifications.SuccessNotifications = false
	cfg.Notifications.ErrorNotifications = false
	cfg.Notifications.CrashNotifications = false
	svc := service.NewNotification(cfg, nil, nil)
	require.NoError(t, svc.SendSuccess(context.Background(), "x"))
	require.NoError(t, svc.SendError(context.Background(), "x"))
	require.NoError(t, svc.SendCrash(context.Background(), domain.ServerStatus{}))

	cfg = notifyConfig(t, srv.URL)
	cfg.DryRun = true
	require.NoError(t, service.NewNotification(cfg, nil, nil).SendSuccess(context.Background(), "x"))

	cfg = notifyConfig(t, "")
	require.NoError(t, service.NewNotification(cfg, nil, nil).SendSuccess(context.Background(), "x"))

	assert.Empty(t, hook.titles)
}

func TestSendRestartWarnings(t *testing.T) {
	hook := &webhook{}
	srv := hook.serve(t)
	cfg := notifyConfig(t, srv.URL)
	cfg.Notifications.WarningIntervals = []int{1, 5, 10}
	cfg.Notifications.WarningMessage = "Restart in {minutes} min"

	svc := service.NewNotification(cfg, nil, nil)
	var waits []time.Duration
	svc.SetAfter(func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	})

	con := &console{err: errors.New("not running")}
	require.NoError(t, svc.SendRestartWarnings(context.Background(), con))
	assert.Equal(t, []string{"say Restart in 10 min", "say Restart in 5 min", "say Restart in 1 min"}, con.sent)
	assert.Equal(t, []time.Duration{5 * time.Minute, 4 * time.Minute}, waits)
	assert.Len(t, hook.titles, 3)
}

func TestSendRestartWarnings_Cancelled(t *testing.T) {
	cfg := notifyConfig(t, "")
	cfg.Notifications.WarningIntervals = []int{10, 5}
	svc := service.NewNotification(cfg, nil, nil)
	svc.SetAfter(func(time.Duration) <-chan time.Time { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	con := &console{}
	assert.ErrorIs(t, svc.SendRestartWarnings(ctx, con), context.Canceled)
	assert.Len(t, con.sent, 1)
}

func TestNotificationHealthCheck(t *testing.T) {
	cfg := notifyConfig(t, "")
	checks := service.NewNotification(cfg, nil, nil).HealthCheck(context.Background())
	require.Len(t, checks, 2)
	assert.Equal(t, domain.StatusWarn, checks[0].Status)

	cfg.Notifications.DiscordWebhook = "https://discord.com/api/webhooks/1/abc"
	checks = service.NewNotification(cfg, nil, nil).HealthCheck(context.Background())
	assert.Equal(t, domain.StatusOK, checks[0].Status)
}
