package services

import (
	"context"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
)

// NopMetrics discards observations.
type NopMetrics struct{}

var _ ports.Metrics = NopMetrics{}

func (NopMetrics) RoomProvisioned(domain.GuildID, time.Duration) {}
func (NopMetrics) ProvisionRejected(domain.RejectReason)         {}
func (NopMetrics) ProvisionFailed()                              {}
func (NopMetrics) RoomDeleted(domain.DeleteOutcome)              {}
func (NopMetrics) ManagedRooms(int)                              {}
func (NopMetrics) OwnershipChanged(string)                       {}
func (NopMetrics) Reconciled(int, int, int, time.Duration)       {}

// NopPublisher drops lifecycle events.
type NopPublisher struct{}

var _ ports.EventPublisher = NopPublisher{}

func (NopPublisher) Publish(context.Context, domain.RoomEvent) error { return nil }
