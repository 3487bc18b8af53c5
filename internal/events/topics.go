package events

// Topics recorded in domain_events.
const (
	TopicOrderSubmitted = "checkout.order_submitted"
	TopicOrderFailed    = "checkout.order_failed"
)

var knownTopics = map[string]struct{}{
	TopicOrderSubmitted: {},
	TopicOrderFailed:    {},
}

// Known reports whether topic is one the bus accepts.
func Known(topic string) bool {
	_, ok := knownTopics[topic]
	return ok
}
