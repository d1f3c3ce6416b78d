// Package domain holds the data model shared by the broadcast engine:
// tenants, destinations, one-off and recurring posts, and dispatch history.
//
// Types here carry no behavior beyond small derivations (state summaries,
// destination list edits); persistence lives in internal/storage and
// delivery in internal/dispatch.
package domain

import "time"

// CredentialID is a short deterministic digest of a tenant's bot secret.
// It is the tenant key everywhere after registration.
type CredentialID string

// MediaClass is the coarse kind of an attachment.
type MediaClass string

const (
	MediaImage    MediaClass = "image"
	MediaVideo    MediaClass = "video"
	MediaDocument MediaClass = "document"
)

// Attachment is a stored file referenced by a post.
// Path is the storage path as recorded at upload time (may be relative).
type Attachment struct {
	Path  string     `json:"path"`
	Name  string     `json:"name,omitempty"`
	Class MediaClass `json:"class"`
}

// Button is an inline URL button.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ButtonRow is one row of inline buttons, left to right.
type ButtonRow []Button

// Destination is a channel or chat a tenant's bot can post into.
// Chat is the provider reference: a numeric id ("-100123") or a handle ("@name").
type Destination struct {
	ID        string       `json:"id"`
	Tenant    CredentialID `json:"tenant"`
	Chat      string       `json:"chat"`
	Name      string       `json:"name"`
	Tags      []string     `json:"tags,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ChannelGroup is a named set of destinations for quick selection.
type ChannelGroup struct {
	ID             string       `json:"id"`
	Tenant         CredentialID `json:"tenant"`
	Name           string       `json:"name"`
	DestinationIDs []string     `json:"destination_ids"`
	CreatedAt      time.Time    `json:"created_at"`
}

// OneOffPost fires exactly once at TriggerAt.
//
// RecurringID is set when the post was materialized from a RecurringDefinition.
type OneOffPost struct {
	ID             string       `json:"id"`
	Tenant         CredentialID `json:"tenant"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	DestinationIDs []string     `json:"destination_ids"`
	Format         Format       `json:"format"`
	Buttons        []ButtonRow  `json:"buttons,omitempty"`
	TriggerAt      time.Time    `json:"trigger_at"`
	CreatedAt      time.Time    `json:"created_at"`
	CreatedBy      int64        `json:"created_by"`
	RecurringID    string       `json:"recurring_id,omitempty"`
}

// Cadence is the repeat period of a recurring definition.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// RecurringDefinition periodically materializes a OneOffPost.
// DayOfWeek (0=Sunday) is only meaningful for weekly cadence.
type RecurringDefinition struct {
	ID             string       `json:"id"`
	Tenant         CredentialID `json:"tenant"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	DestinationIDs []string     `json:"destination_ids"`
	Cadence        Cadence      `json:"cadence"`
	Hour           int          `json:"hour"`
	Minute         int          `json:"minute"`
	DayOfWeek      int          `json:"day_of_week"`
	Enabled        bool         `json:"enabled"`
	NextTrigger    time.Time    `json:"next_trigger"`
	Format         Format       `json:"format"`
	Buttons        []ButtonRow  `json:"buttons,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CreatedBy      int64        `json:"created_by"`
}

// DispatchResult is the outcome of one destination within a dispatch.
//
// MessageIDs are the provider ids of delivered messages; a failed result keeps
// the ids of parts sent before the failure. RetractedIDs is the subset already
// deleted by retraction. Error is set iff OK is false.
type DispatchResult struct {
	DestinationID string `json:"destination_id"`
	Chat          string `json:"chat"`
	OK            bool   `json:"ok"`
	MessageIDs    []int  `json:"message_ids,omitempty"`
	RetractedIDs  []int  `json:"retracted_ids,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Pending returns the message ids that have not been retracted yet.
func (r DispatchResult) Pending() []int {
	if len(r.RetractedIDs) == 0 {
		return append([]int(nil), r.MessageIDs...)
	}
	done := make(map[int]struct{}, len(r.RetractedIDs))
	for _, id := range r.RetractedIDs {
		done[id] = struct{}{}
	}
	out := make([]int, 0, len(r.MessageIDs))
	for _, id := range r.MessageIDs {
		if _, ok := done[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// HistoryEntry is the immutable record of one completed dispatch.
// Only RetractedAt (once) and per-result RetractedIDs change afterwards.
type HistoryEntry struct {
	ID              string           `json:"id"`
	Tenant          CredentialID     `json:"tenant"`
	PostID          string           `json:"post_id,omitempty"`
	Text            string           `json:"text"`
	AttachmentNames []string         `json:"attachment_names,omitempty"`
	DestinationIDs  []string         `json:"destination_ids"`
	Results         []DispatchResult `json:"results"`
	SentAt          time.Time        `json:"sent_at"`
	CreatedBy       int64            `json:"created_by"`
	Format          Format           `json:"format"`
	Buttons         []ButtonRow      `json:"buttons,omitempty"`
	RetractedAt     *time.Time       `json:"retracted_at,omitempty"`
}

// State derives the terminal dispatch state from the recorded results.
func (h HistoryEntry) State() DispatchState { return Summarize(h.Results) }

// AttachmentNames returns display names for attachments, falling back to the path.
func AttachmentNames(atts []Attachment) []string {
	if len(atts) == 0 {
		return nil
	}
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		if a.Name != "" {
			out = append(out, a.Name)
			continue
		}
		out = append(out, a.Path)
	}
	return out
}

// RemoveID returns ids without every occurrence of id, and whether anything changed.
func RemoveID(ids []string, id string) ([]string, bool) {
	changed := false
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v == id {
			changed = true
			continue
		}
		out = append(out, v)
	}
	if !changed {
		return ids, false
	}
	return out, true
}
