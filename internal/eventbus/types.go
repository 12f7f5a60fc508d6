package eventbus

import (
	"time"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicGatewayBroadcast        Topic = "gateway.broadcast"
	TopicPlatformMessageDeleted  Topic = "platform.message_deleted"
	TopicPlatformChannelDeleted  Topic = "platform.channel_deleted"
	TopicPluginsLifecycle        Topic = "plugins.lifecycle"
	TopicPermissionsOverridesSet Topic = "permissions.overrides_changed"
)

// Source describes which component produced an event.
type Source string

const (
	SourcePluginRuntime Source = "plugin_runtime"
	SourceGateway       Source = "gateway"
	SourceHTTP          Source = "http"
	SourcePlatform      Source = "platform"
	SourceUnknown       Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// BroadcastEvent asks the gateway to fan an event out to a guild room.
// RequiredAction and RequiredCategory are explicit requirements supplied by
// the publisher; both empty means the gateway infers one.
type BroadcastEvent struct {
	GuildID          string
	Event            string
	Data             any
	RequiredAction   string
	RequiredCategory string
}

// MessageDeletedEvent reports a chat message removed on the platform.
type MessageDeletedEvent struct {
	GuildID   string
	ChannelID string
	MessageID string
}

// ChannelDeletedEvent reports a channel removed on the platform.
type ChannelDeletedEvent struct {
	GuildID   string
	ChannelID string
}

// PluginStatus mirrors the runtime status of a plugin.
type PluginStatus string

const (
	PluginStatusLoaded   PluginStatus = "loaded"
	PluginStatusFailed   PluginStatus = "failed"
	PluginStatusDisabled PluginStatus = "disabled"
	PluginStatusUnloaded PluginStatus = "unloaded"
)

// PluginLifecycleEvent reports a plugin state transition.
type PluginLifecycleEvent struct {
	Name    string
	Version string
	Status  PluginStatus
	Error   string
}

// OverridesChangedEvent reports that a guild's role overrides were modified.
type OverridesChangedEvent struct {
	GuildID string
	RoleID  string
}

// Typed topic descriptors.
//
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time checked Publish / SubscribeTo calls.
var Gateway = struct {
	Broadcast TopicDef[BroadcastEvent]
}{
	Broadcast: NewTopicDef[BroadcastEvent](TopicGatewayBroadcast),
}

var Platform = struct {
	MessageDeleted TopicDef[MessageDeletedEvent]
	ChannelDeleted TopicDef[ChannelDeletedEvent]
}{
	MessageDeleted: NewTopicDef[MessageDeletedEvent](TopicPlatformMessageDeleted),
	ChannelDeleted: NewTopicDef[ChannelDeletedEvent](TopicPlatformChannelDeleted),
}

var Plugins = struct {
	Lifecycle TopicDef[PluginLifecycleEvent]
}{
	Lifecycle: NewTopicDef[PluginLifecycleEvent](TopicPluginsLifecycle),
}

var Permissions = struct {
	OverridesChanged TopicDef[OverridesChangedEvent]
}{
	OverridesChanged: NewTopicDef[OverridesChangedEvent](TopicPermissionsOverridesSet),
}
