package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
)

// Acceptor is the host-side substrate a Manager needs.
type Acceptor interface {
	cbridge.PortAcceptor
	cbridge.Listener
}

// Manager serves one callback channel key on a host: it opens a session for every port accepted
// on the key and closes sessions by id when the peer publishes on the key's close channel.
type Manager struct {
	key     string
	reg     *Registry
	handler Handler
	codec   cbridge.Codec
	logger  *slog.Logger

	once   sync.Once
	unsubs []func()
}

// Attach subscribes a Manager for key on host. Close requests carry the session id encoded with codec.
func Attach(host Acceptor, reg *Registry, codec cbridge.Codec, key string, handler Handler) (*Manager, error) {
	m := &Manager{key: key, reg: reg, handler: handler, codec: codec, logger: reg.logger}

	stop, err := host.AcceptPorts(key, m.accept)
	if err != nil {
		return nil, fmt.Errorf("accept ports %s: %w", key, err)
	}

	stopClose, err := host.Listen(cbridge.CloseChannel(key), m.closeRequest)
	if err != nil {
		stop()
		return nil, fmt.Errorf("listen %s: %w", cbridge.CloseChannel(key), err)
	}

	m.unsubs = []func(){stop, stopClose}

	return m, nil
}

// Key returns the channel key served by the manager.
func (m *Manager) Key() string { return m.key }

func (m *Manager) accept(ctx context.Context, p cbridge.Port) error {
	if _, err := m.reg.Open(ctx, m.key, m.handler, p); err != nil {
		m.logger.WarnContext(ctx, "stream: open rejected", "key", m.key, "id", p.ID(), "err", err)
		return err
	}

	return nil
}

func (m *Manager) closeRequest(ctx context.Context, data []byte) {
	var id uint64
	if err := m.codec.Unmarshal(data, &id); err != nil {
		m.logger.WarnContext(ctx, "stream: bad close request", "key", m.key, "err", err)
		return
	}

	m.reg.Close(m.key, id)
}

// Detach removes the transport subscriptions and closes every live session of the key.
func (m *Manager) Detach() {
	m.once.Do(func() {
		for _, stop := range m.unsubs {
			stop()
		}

		m.reg.CloseAll(m.key)
	})
}
