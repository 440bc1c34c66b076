package events

// Topics emitted by the checkout flow.
const (
	TopicSessionCreated   = "checkout.session_created"
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentFailed    = "payment.failed"
)
