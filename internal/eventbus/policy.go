package eventbus

// DeliveryStrategy determines behaviour when a subscriber's channel is full.
type DeliveryStrategy string

const (
	// StrategyDropOldest removes the oldest event from the channel and enqueues the new one.
	StrategyDropOldest DeliveryStrategy = "drop-oldest"
	// StrategyDropNewest discards the incoming event when the channel is full.
	StrategyDropNewest DeliveryStrategy = "drop-newest"
	// StrategyOverflow spills into a capped ring buffer drained by a background goroutine.
	StrategyOverflow DeliveryStrategy = "overflow"
)

// DeliveryPolicy controls how a topic handles backpressure.
type DeliveryPolicy struct {
	Strategy    DeliveryStrategy
	MaxOverflow int // ring capacity for StrategyOverflow (0 = defaultMaxOverflow)
}

const defaultMaxOverflow = 512

var defaultPolicy = DeliveryPolicy{Strategy: StrategyDropOldest}

// defaultPolicies maps known topics to their delivery policies. Publishers
// never block: a slow consumer loses events according to its policy.
var defaultPolicies = map[Topic]DeliveryPolicy{
	TopicGatewayBroadcast:        {Strategy: StrategyOverflow, MaxOverflow: 4096},
	TopicPlatformMessageDeleted:  {Strategy: StrategyOverflow, MaxOverflow: defaultMaxOverflow},
	TopicPlatformChannelDeleted:  {Strategy: StrategyOverflow, MaxOverflow: defaultMaxOverflow},
	TopicPermissionsOverridesSet: {Strategy: StrategyDropOldest},
	TopicPluginsLifecycle:        {Strategy: StrategyDropNewest},
}

// policyFor returns the delivery policy for a topic, falling back to defaultPolicy.
func policyFor(topic Topic, overrides map[Topic]DeliveryPolicy) DeliveryPolicy {
	if p, ok := overrides[topic]; ok {
		return p
	}
	if p, ok := defaultPolicies[topic]; ok {
		return p
	}
	return defaultPolicy
}
