// Package notify fans lifecycle notifications out to best-effort sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

// ErrNoRecipients is returned by a sink that has nobody to deliver to.
var ErrNoRecipients = errors.New("notification has no reachable recipients")

// Notifier delivers a notification. Delivery is not guaranteed.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Multi delivers to every sink and joins their failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MessageSender sends a text message to one WhatsApp destination.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// WhatsAppSink texts explicit recipients, and the configured group for broadcasts.
type WhatsAppSink struct {
	sender  MessageSender
	groupID string
	logger  *zap.Logger
}

func NewWhatsAppSink(sender MessageSender, groupID string, logger *zap.Logger) *WhatsAppSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhatsAppSink{sender: sender, groupID: groupID, logger: logger}
}

func (s *WhatsAppSink) Notify(ctx context.Context, n models.Notification) error {
	targets := append([]string(nil), n.Recipients...)
	if n.Scope != nil && s.groupID != "" {
		targets = append(targets, s.groupID)
	}
	if len(targets) == 0 {
		return ErrNoRecipients
	}

	body := FormatText(n)
	var errs []error
	for _, to := range targets {
		id, err := s.sender.SendText(ctx, to, body)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", to, err))
			continue
		}
		s.logger.Debug("notification sent", zap.String("to", to), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// RowAppender appends one row to a spreadsheet range.
type RowAppender interface {
	AppendRow(ctx context.Context, sheetRange string, values []any) error
}

// SheetSink keeps an audit trail of notifications in a spreadsheet.
type SheetSink struct {
	sheet      RowAppender
	sheetRange string
	now        func() time.Time
}

func NewSheetSink(sheet RowAppender, sheetRange string) *SheetSink {
	return &SheetSink{sheet: sheet, sheetRange: sheetRange, now: time.Now}
}

func (s *SheetSink) Notify(ctx context.Context, n models.Notification) error {
	row := []any{
		s.now().UTC().Format(time.RFC3339),
		string(n.Severity),
		n.Title,
		n.Message,
		n.Details,
		n.Link,
		audience(n),
	}
	return s.sheet.AppendRow(ctx, s.sheetRange, row)
}

// FormatText renders a notification as a chat message.
func FormatText(n models.Notification) string {
	var b strings.Builder
	if n.Severity == models.SeverityAlert || n.Severity == models.SeverityWarning {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(string(n.Severity)))
	}
	fmt.Fprintf(&b, "*%s*\n%s", n.Title, n.Message)
	if n.Details != "" {
		b.WriteString("\n")
		b.WriteString(n.Details)
	}
	if len(n.Metadata) > 0 {
		keys := make([]string, 0, len(n.Metadata))
		for k := range n.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, n.Metadata[k])
		}
	}
	if n.Link != "" {
		b.WriteString("\n")
		b.WriteString(n.Link)
	}
	return b.String()
}

func audience(n models.Notification) string {
	parts := append([]string(nil), n.Recipients...)
	if n.Scope != nil {
		parts = append(parts, fmt.Sprintf("%s@%s", n.Scope.Role, n.Scope.OrganizationID))
	}
	return strings.Join(parts, ",")
}
