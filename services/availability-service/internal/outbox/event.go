package outbox

// Event is the domain event envelope written to the outbox table inside the
// mutating transaction. The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// EventTypeConfigUpdated is emitted whenever a profile's availability
// configuration is replaced or patched. Downstream booking systems use it to
// invalidate any cached slot views.
const EventTypeConfigUpdated = "availability.config.updated.v1"
