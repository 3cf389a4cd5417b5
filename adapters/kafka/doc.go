// Package kafka writes bridge broadcasts and sends to Kafka topics.
//
// It only implements the outbound half of a transport (Broadcaster and Sender) and is meant to be
// plugged into a bridge with bridge.WithBroadcaster or into a peer surface with bridge.WithSender.
// The franz-go backed constructor NewWithKgo is built with the "franz" tag.
package kafka
