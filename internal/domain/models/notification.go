package models

// Severity ranks a notification for sinks that care.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityAlert   Severity = "alert"
)

// BroadcastScope targets everyone holding a role in an organization.
type BroadcastScope struct {
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Notification is a best-effort message emitted after a committed transition.
// Either Recipients or Scope is set.
type Notification struct {
	Recipients []string          `json:"recipients,omitempty"`
	Scope      *BroadcastScope   `json:"scope,omitempty"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Details    string            `json:"details,omitempty"`
	Severity   Severity          `json:"severity"`
	Link       string            `json:"link,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
