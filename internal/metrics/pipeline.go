package metrics

import "strconv"

// Pipeline metrics shared by the webhook handler, the worker pool and the
// agent loop.
var (
	DuplicateMessages = Collector.Counter("recruitmate_duplicate_messages_total", "Deliveries skipped because the message id was already seen", "")
	QueueDropped      = Collector.Counter("recruitmate_queue_dropped_total", "Messages dropped because the inbound queue was full", "")
	BackendRequests   = Collector.Counter("recruitmate_backend_requests_total", "Language-model backend requests", "")
	BackendErrors     = Collector.Counter("recruitmate_backend_errors_total", "Failed language-model backend requests", "")
	RepliesSent       = Collector.Counter("recruitmate_replies_sent_total", "Replies delivered to WhatsApp", "")
	SendFailures      = Collector.Counter("recruitmate_send_failures_total", "Replies the Cloud API rejected or could not be reached for", "")
	InFlight          = Collector.Gauge("recruitmate_messages_in_flight", "Messages currently being processed", "")

	BackendLatency = Collector.Histogram("recruitmate_backend_latency_seconds", "Backend request latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60})
	MessageLatency = Collector.Histogram("recruitmate_message_latency_seconds", "Time from dequeue to reply in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

// WebhookResponses counts webhook responses by HTTP status.
func WebhookResponses(status int) *Counter {
	return Collector.Counter("recruitmate_webhook_responses_total", "Webhook responses by status code", Label("status", strconv.Itoa(status)))
}

// MessagesProcessed counts finished messages by outcome (replied, silent,
// failed, max_rounds).
func MessagesProcessed(outcome string) *Counter {
	return Collector.Counter("recruitmate_messages_processed_total", "Messages processed by outcome", Label("outcome", outcome))
}

// ToolCalls counts tool dispatches by tool name.
func ToolCalls(name string) *Counter {
	return Collector.Counter("recruitmate_tool_calls_total", "Tool dispatches by tool name", Label("tool", name))
}
