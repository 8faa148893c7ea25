package legion

import (
	"log/slog"

	"github.com/legionhq/legiond/internal/natsbus"
)

// BusEventSink publishes legion events onto the bus, one subject per
// legion, where the web layer picks them up for the operator UI.
type BusEventSink struct {
	client *natsbus.Client
}

func NewBusEventSink(client *natsbus.Client) *BusEventSink {
	return &BusEventSink{client: client}
}

// Publish puts the event on the bus. Fire and forget: a publish failure is
// logged and never propagates back into the routing path.
func (s *BusEventSink) Publish(event Event) {
	if s.client == nil {
		return
	}
	if err := s.client.PublishJSON(natsbus.TopicEventsLegion(event.LegionID), event); err != nil {
		slog.Warn("failed to publish event", "type", event.Type, "legion", event.LegionID, "error", err)
	}
}
