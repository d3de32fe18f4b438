package domain

// MessageBus hands deduplicated inbound messages from the webhook handler to
// the agent workers.
type MessageBus interface {
	Publish(msg InboundMessage) bool
	Subscribe() <-chan InboundMessage
	Close()
}
