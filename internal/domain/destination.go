package domain

// DestinationType identifies the transport used to reach a destination.
type DestinationType string

// Destination types.
const (
	DestinationTypeWebhook  DestinationType = "webhook"
	DestinationTypeDiscord  DestinationType = "discord"
	DestinationTypeTelegram DestinationType = "telegram"
)

// Destination is one external delivery target. Key is unique per
// destination; all per-destination dispatch state (circuit breaker, batch
// buffer) is keyed by it. Target is the webhook URL or chat identifier,
// depending on Type.
type Destination struct {
	Key    string          `json:"key"`
	Type   DestinationType `json:"type"`
	Target string          `json:"target"`
	Batch  bool            `json:"batch"`
}
