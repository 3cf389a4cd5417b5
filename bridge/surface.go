package bridge

import (
	"context"
	"errors"
	"fmt"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
	"github.com/next-trace/scg-bridge/stream"
)

// Surface is the peer-side view of the exposed controllers: Surface[group][member].
type Surface map[string]Members

// Members maps member names of one group to their endpoints. Callback members also export
// their "member:__close" companion as a send endpoint.
type Members map[string]*Endpoint

// Group returns the members of group and whether the group is exposed.
func (s Surface) Group(name string) (Members, bool) {
	m, ok := s[name]
	return m, ok
}

// Endpoint returns the endpoint of group.member and whether it is exposed.
func (s Surface) Endpoint(group, member string) (*Endpoint, bool) {
	e, ok := s[group][member]
	return e, ok
}

// Expose builds the surface of schemas over peer. Duplicate groups fail with ErrGroupExists and
// unknown patterns with ErrInvalidPattern.
func Expose(peer cbridge.Peer, codec cbridge.Codec, schemas ...Schema) (Surface, error) {
	if peer == nil || codec == nil {
		return nil, fmt.Errorf("expose: %w", berr.ErrTransportNotConfigured)
	}

	ids := &stream.IDs{}
	surface := make(Surface, len(schemas))

	for _, s := range schemas {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("expose: %w", err)
		}

		if _, dup := surface[s.Group]; dup {
			return nil, fmt.Errorf("expose group %q: %w", s.Group, berr.ErrGroupExists)
		}

		members := make(Members, len(s.Members))

		for _, name := range s.memberNames() {
			p := s.Members[name]
			e := &Endpoint{
				channel: cbridge.ChannelKey(s.Group, name),
				pattern: p,
				peer:    peer,
				codec:   codec,
				ids:     ids,
			}
			members[name] = e

			if p == cbridge.Callback {
				closer := &Endpoint{
					channel: cbridge.CloseChannel(e.channel),
					pattern: cbridge.Send,
					peer:    peer,
					codec:   codec,
					ids:     ids,
				}
				members[name+cbridge.CloseSuffix] = closer
			}
		}

		surface[s.Group] = members
	}

	return surface, nil
}

// WithSender returns peer with fire-and-forget traffic routed through s.
func WithSender(peer cbridge.Peer, s cbridge.Sender) cbridge.Peer {
	return senderPeer{Peer: peer, sender: s}
}

type senderPeer struct {
	cbridge.Peer
	sender cbridge.Sender
}

func (p senderPeer) Send(ctx context.Context, channel string, data []byte) error {
	return p.sender.Send(ctx, channel, data)
}

// Endpoint is one exposed member bound to its channel.
type Endpoint struct {
	channel string
	pattern cbridge.Pattern
	peer    cbridge.Peer
	codec   cbridge.Codec
	ids     *stream.IDs
}

// Channel returns the channel key of the endpoint.
func (e *Endpoint) Channel() string { return e.channel }

// Pattern returns the interaction pattern of the endpoint.
func (e *Endpoint) Pattern() cbridge.Pattern { return e.pattern }

func (e *Endpoint) expect(p cbridge.Pattern) error {
	if e.pattern != p {
		return fmt.Errorf("%s is %s, not %s: %w", e.channel, e.pattern, p, berr.ErrInvalidPattern)
	}

	return nil
}

// Send publishes v on a send endpoint.
func (e *Endpoint) Send(ctx context.Context, v any) error {
	if err := e.expect(cbridge.Send); err != nil {
		return err
	}

	data, err := e.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("send %s: %w", e.channel, err)
	}

	if err := e.peer.Send(ctx, e.channel, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("send %s: %w", e.channel, errors.Join(berr.ErrSendFailed, err))
	}

	return nil
}

// Invoke calls an invoke endpoint with in and decodes the result into out. A nil out discards it.
func (e *Endpoint) Invoke(ctx context.Context, in, out any) error {
	if err := e.expect(cbridge.Invoke); err != nil {
		return err
	}

	data, err := e.codec.Marshal(in)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", e.channel, err)
	}

	res, err := e.invoke(ctx, data)
	if err != nil {
		return err
	}

	if out == nil || len(res) == 0 {
		return nil
	}

	if err := e.codec.Unmarshal(res, out); err != nil {
		return fmt.Errorf("invoke %s: %w", e.channel, err)
	}

	return nil
}

func (e *Endpoint) invoke(ctx context.Context, data []byte) ([]byte, error) {
	res, err := e.peer.Invoke(ctx, e.channel, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("invoke %s: %w", e.channel, errors.Join(berr.ErrInvokeFailed, err))
	}

	return res, nil
}

// Listen subscribes fn to the raw values broadcast on an on endpoint.
func (e *Endpoint) Listen(fn func(data []byte)) (unsubscribe func(), err error) {
	if err := e.expect(cbridge.On); err != nil {
		return nil, err
	}

	return e.peer.Subscribe(e.channel, fn)
}
