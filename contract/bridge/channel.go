package bridge

import "strings"

const (
	// GroupSeparator joins a controller group and a member name into a channel key.
	GroupSeparator = ":"
	// CloseSuffix marks the companion channel on which a peer signals a streaming session close.
	CloseSuffix = ":__close"
)

// ChannelKey returns the channel for a member of a controller group ("group:member").
func ChannelKey(group, member string) string { return group + GroupSeparator + member }

// CloseChannel returns the close companion of a callback channel.
func CloseChannel(key string) string { return key + CloseSuffix }

// SplitChannelKey splits a channel key into its group and member parts.
func SplitChannelKey(key string) (group, member string, ok bool) {
	return strings.Cut(key, GroupSeparator)
}
