// Package queue defines the gauge event payloads and moves them over
// RabbitMQ: a publisher used by the services after commit and a consumer
// that appends every event to a log file.
package queue

import (
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
)

// EventsQueue is the durable queue every gauge event is routed to.
const EventsQueue = "gauge.events"

// EventType names a committed change.
type EventType string

const (
    EventSetCreated          EventType = "gauge_set.created"
    EventSetPaired           EventType = "gauge_set.paired"
    EventCompanionReplaced   EventType = "gauge_set.companion_replaced"
    EventSetUnpaired         EventType = "gauge_set.unpaired"
    EventSpareCreated        EventType = "spare.created"
    EventCalibrationSent     EventType = "calibration.sent"
    EventCalibrationReceived EventType = "calibration.received"
    EventCertificateVerified EventType = "calibration.certificate_verified"
    EventReleased            EventType = "calibration.released"
)

// GaugeEvent is published once a pairing or calibration change has
// committed.  It carries enough for downstream consumers to log or notify
// without reading the assets table.
type GaugeEvent struct {
    ID         string    `json:"id"`
    Type       EventType `json:"type"`
    ActorID    uint64    `json:"actor_id"`
    AssetIDs   []uint64  `json:"asset_ids"`
    BaseID     string    `json:"base_id,omitempty"`
    Status     string    `json:"status,omitempty"`
    Reason     string    `json:"reason,omitempty"`
    OccurredAt time.Time `json:"occurred_at"`
}

// NewGaugeEvent stamps a fresh id and the current UTC time.
func NewGaugeEvent(t EventType, actorID uint64, assetIDs ...uint64) GaugeEvent {
    return GaugeEvent{
        ID:         uuid.NewString(),
        Type:       t,
        ActorID:    actorID,
        AssetIDs:   assetIDs,
        OccurredAt: time.Now().UTC(),
    }
}

// Line renders the event as one line of the event log.
func (e GaugeEvent) Line() string {
    ids := make([]string, len(e.AssetIDs))
    for i, id := range e.AssetIDs {
        ids[i] = fmt.Sprint(id)
    }
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] %s | id=%s | actor_id=%d | assets=[%s]",
        e.OccurredAt.Format(time.RFC3339), e.Type, e.ID, e.ActorID, strings.Join(ids, ","))
    if e.BaseID != "" {
        fmt.Fprintf(&b, " | base_id=%s", e.BaseID)
    }
    if e.Status != "" {
        fmt.Fprintf(&b, " | status=%s", e.Status)
    }
    if e.Reason != "" {
        fmt.Fprintf(&b, " | reason=%q", e.Reason)
    }
    b.WriteByte('\n')
    return b.String()
}
