package actor

import "citysim/internal/city"

type EventKind string

const (
	EventWake              EventKind = "wake"
	EventLeftHome          EventKind = "left_home"
	EventArrivedWork       EventKind = "arrived_work"
	EventOrderedDelivery   EventKind = "ordered_delivery"
	EventDeliveryReceived  EventKind = "delivery_received"
	EventDeliveryCancelled EventKind = "delivery_cancelled"
	EventLeftForLunch      EventKind = "left_for_lunch"
	EventArrivedLunch      EventKind = "arrived_lunch"
	EventLeftLunch         EventKind = "left_lunch"
	EventLunchAbandoned    EventKind = "lunch_abandoned"
	EventLeftWork          EventKind = "left_work"
	EventArrivedHome       EventKind = "arrived_home"
	EventArrivedLeisure    EventKind = "arrived_leisure"
	EventLeftLeisure       EventKind = "left_leisure"
	EventSleep             EventKind = "sleep"
)

// Event is one immutable itinerary entry.
type Event struct {
	Kind     EventKind `json:"kind"`
	Hour     float64   `json:"hour"`
	Location string    `json:"location,omitempty"`
}

type Purpose string

const (
	PurposeWork        Purpose = "work"
	PurposeLunch       Purpose = "lunch"
	PurposeBackToWork  Purpose = "back_to_work"
	PurposeHome        Purpose = "home"
	PurposeLeisure     Purpose = "leisure"
	PurposeLeisureHome Purpose = "leisure_home"
)

// PathSegment is one walked route, kept for highlighting.
type PathSegment struct {
	Cells   []city.Cell    `json:"cells"`
	Origin  city.TileClass `json:"origin"`
	Purpose Purpose        `json:"purpose"`
	Hour    float64        `json:"hour"`
}
