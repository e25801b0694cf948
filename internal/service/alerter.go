package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
	"github.com/Strob0t/ForgeTrack/internal/port/cache"
	"github.com/Strob0t/ForgeTrack/internal/port/notifier"
)

const alertSendTimeout = 10 * time.Second

// Alerter tells operators about failed webhook deliveries and background
// syncs. Alerts go out in the background and at most once per connection,
// source and cooldown window. A nil *Alerter sends nothing.
type Alerter struct {
	notifiers []notifier.Notifier
	cooldown  cache.Cache // optional, shared so nodes suppress each other
	window    time.Duration
	wg        sync.WaitGroup
}

// NewAlerter returns an Alerter fanning out to notifiers, or nil when there
// are none.
func NewAlerter(cooldown cache.Cache, window time.Duration, notifiers ...notifier.Notifier) *Alerter {
	if len(notifiers) == 0 {
		return nil
	}
	return &Alerter{notifiers: notifiers, cooldown: cooldown, window: window}
}

// WebhookFailed alerts about a delivery whose outcome is failed.
func (a *Alerter) WebhookFailed(ctx context.Context, d *WebhookDelivery, o webhook.Outcome) {
	if a == nil || o.Kind != webhook.OutcomeFailed {
		return
	}
	conn := d.Connection
	msg := o.Reason
	if text := o.ErrorText(); text != "" {
		msg += ": " + text
	}
	fields := []notifier.Field{
		{Name: "Service", Value: string(conn.Service)},
		{Name: "Connection", Value: conn.ID},
		{Name: "Project", Value: conn.ProjectID},
	}
	if d.DeliveryID != "" {
		fields = append(fields, notifier.Field{Name: "Delivery", Value: d.DeliveryID})
	}
	if o.IssueKey != "" {
		fields = append(fields, notifier.Field{Name: "Issue", Value: o.IssueKey})
	}
	a.send(ctx, conn.ID, notifier.Alert{
		Title:   fmt.Sprintf("%s webhook processing failed", conn.Service),
		Message: msg,
		Level:   notifier.LevelError,
		Source:  notifier.SourceWebhookFailed,
		Fields:  fields,
	})
}

// SyncFailed alerts about a background sync that ended failed. Syncs the
// user cancelled are not failures worth an alert.
func (a *Alerter) SyncFailed(ctx context.Context, snap *syncop.Snapshot) {
	if a == nil || snap.Status != syncop.StatusFailed || snap.Error == syncop.CancelledMessage {
		return
	}
	a.send(ctx, snap.ConnectionID, notifier.Alert{
		Title:   "Repository sync failed",
		Message: snap.Error,
		Level:   notifier.LevelWarning,
		Source:  notifier.SourceSyncFailed,
		Fields: []notifier.Field{
			{Name: "Operation", Value: snap.ID},
			{Name: "Connection", Value: snap.ConnectionID},
			{Name: "Project", Value: snap.ProjectID},
			{Name: "Type", Value: string(snap.SyncType)},
			{Name: "Progress", Value: fmt.Sprintf("%d%% (%d created, %d updated, %d failed)",
				snap.Percentage, snap.Results.Created, snap.Results.Updated, snap.Results.Failed)},
		},
	})
}

// Wait blocks until alerts in flight have been sent.
func (a *Alerter) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}

func (a *Alerter) send(ctx context.Context, connectionID string, alert notifier.Alert) {
	if !a.claim(ctx, alert.Source, connectionID) {
		slog.DebugContext(ctx, "alert suppressed by cooldown", "source", alert.Source, "connection_id", connectionID)
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, n := range a.notifiers {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(sendCtx, alertSendTimeout)
			defer cancel()
			if err := n.Send(ctx, alert); err != nil {
				slog.WarnContext(ctx, "alert delivery failed", "notifier", n.Name(), "source", alert.Source, "error", err)
			}
		}()
	}
}

// claim reports whether the cooldown window for source and connection is
// free. Cache errors let the alert through.
func (a *Alerter) claim(ctx context.Context, source, connectionID string) bool {
	if a.cooldown == nil || a.window <= 0 {
		return true
	}
	ok, err := a.cooldown.Claim(ctx, cache.Key("alert", source, connectionID), []byte{1}, a.window)
	if err != nil {
		slog.WarnContext(ctx, "alert cooldown check failed", "error", err)
		return true
	}
	return ok
}
