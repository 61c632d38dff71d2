package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

type fakeSender struct {
	sent map[string]string
	fail map[string]error
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	if err := f.fail[to]; err != nil {
		return "", err
	}
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[to] = body
	return "wamid." + to, nil
}

type fakeSheet struct {
	ranges []string
	rows   [][]any
	err    error
}

func (f *fakeSheet) AppendRow(_ context.Context, sheetRange string, values []any) error {
	f.ranges = append(f.ranges, sheetRange)
	f.rows = append(f.rows, values)
	return f.err
}

var closed = models.Notification{
	Scope:    &models.BroadcastScope{OrganizationID: "org-1", Role: "manager"},
	Title:    "Cycle closed",
	Message:  "Batch 12 was closed by Aminata",
	Details:  "Final intake 6.00 bags",
	Severity: models.SeverityInfo,
	Link:     "/histories/h-1",
	Metadata: map[string]string{"history_id": "h-1", "farmer_id": "f-1"},
}

func TestWhatsAppSinkBroadcastsToGroup(t *testing.T) {
	sender := &fakeSender{}
	sink := NewWhatsAppSink(sender, "group-1", nil)

	require.NoError(t, sink.Notify(context.Background(), closed))
	require.Contains(t, sender.sent, "group-1")
	assert.Contains(t, sender.sent["group-1"], "*Cycle closed*")
	assert.Contains(t, sender.sent["group-1"], "history_id: h-1")
}

func TestWhatsAppSinkWithoutRecipients(t *testing.T) {
	sink := NewWhatsAppSink(&fakeSender{}, "", nil)

	assert.ErrorIs(t, sink.Notify(context.Background(), closed), ErrNoRecipients)
}

func TestWhatsAppSinkContinuesPastFailures(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"a": errors.New("rate limited")}}
	sink := NewWhatsAppSink(sender, "", nil)

	err := sink.Notify(context.Background(), models.Notification{Recipients: []string{"a", "b"}, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, sender.sent, "b")
}

func TestSheetSinkWritesAuditRow(t *testing.T) {
	sheet := &fakeSheet{}
	sink := NewSheetSink(sheet, "Notifications!A:G")
	sink.now = func() time.Time { return time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, sink.Notify(context.Background(), closed))
	require.Len(t, sheet.rows, 1)
	assert.Equal(t, "Notifications!A:G", sheet.ranges[0])
	assert.Equal(t, []any{
		"2025-04-10T09:00:00Z", "info", "Cycle closed", "Batch 12 was closed by Aminata",
		"Final intake 6.00 bags", "/histories/h-1", "manager@org-1",
	}, sheet.rows[0])
}

func TestMultiJoinsErrors(t *testing.T) {
	sheet := &fakeSheet{err: errors.New("quota exceeded")}
	sender := &fakeSender{}
	multi := Multi{NewSheetSink(sheet, "A:G"), NewWhatsAppSink(sender, "group-1", nil)}

	err := multi.Notify(context.Background(), closed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, sender.sent, "group-1")
}

func TestFormatTextFlagsAlerts(t *testing.T) {
	text := FormatText(models.Notification{Title: "Low stock", Message: "2 bags left", Severity: models.SeverityAlert})
	assert.Equal(t, "[ALERT] *Low stock*\n2 bags left", text)
}
