// Package maintenance holds the server-wide flag that suspends all new work
// assignment. The check is lock-free so the common "no scheduling" path stays
// cheap.
package maintenance

import (
	"sync/atomic"

	"github.com/camber-cd/camber/internal/events"
)

type Service struct {
	enabled atomic.Bool
	hub     *events.Hub
}

func NewService(hub *events.Hub) *Service {
	return &Service{hub: hub}
}

// Enable suspends new work assignment.
func (s *Service) Enable() {
	if !s.enabled.Swap(true) && s.hub != nil {
		s.hub.Publish("maintenance.enabled", nil)
	}
}

// Disable resumes work assignment.
func (s *Service) Disable() {
	if s.enabled.Swap(false) && s.hub != nil {
		s.hub.Publish("maintenance.disabled", nil)
	}
}

// IsMaintenanceMode reports whether assignment is currently suspended.
func (s *Service) IsMaintenanceMode() bool {
	return s.enabled.Load()
}
