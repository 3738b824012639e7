package websocket

import (
	"context"
	"encoding/json"
	"time"
)

// Feed topics. Clients subscribe to a whole area or to a single room or bill.
const (
	TopicWard     = "ward"
	TopicPharmacy = "pharmacy"
	TopicBilling  = "billing"
)

// Event types published after a committed ledger mutation.
const (
	EventAssignmentAdmitted    = "assignment.admitted"
	EventAssignmentTransferred = "assignment.transferred"
	EventAssignmentDischarged  = "assignment.discharged"
	EventRoomStatusChanged     = "room.status_changed"
	EventItemDispensed         = "prescription.dispensed"
	EventMedicineRestocked     = "medicine.restocked"
	EventBillCreated           = "bill.created"
	EventBillPaid              = "bill.paid"
	EventBillCancelled         = "bill.cancelled"
)

func RoomTopic(roomID string) string { return "room:" + roomID }
func BillTopic(billID string) string { return "bill:" + billID }

// Event is a notification pushed to subscribed dashboard clients.
type Event struct {
	Type         string          `json:"type"`
	Topics       []string        `json:"topics"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event, encoding data as its payload. A payload that
// cannot be encoded is omitted rather than failing the caller.
func NewEvent(eventType, resourceType, resourceID string, data interface{}, topics ...string) Event {
	evt := Event{
		Type:         eventType,
		Topics:       topics,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			evt.Data = raw
		}
	}
	return evt
}

// EventPublisher is what the services depend on. The hub implements it; nil
// publishers are tolerated by the services.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
