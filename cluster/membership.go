// Package cluster discovers counterpart nodes over serf gossip. Each node
// advertises the base URL of its consistency endpoint as a tag; the
// membership doubles as the peer provider for the point-to-point strategy.
package cluster

import (
	"net"
	"sync"

	"github.com/hashicorp/serf/serf"
	"go.uber.org/zap"
)

// ConsistencyURLTag is the serf tag carrying a member's reachable HTTP
// base URL.
const ConsistencyURLTag = "consistency_url"

type Config struct {
	NodeName       string
	BindAddr       string
	AdvertiseURL   string
	StartJoinAddrs []string
}

// Handler is notified about membership changes.
type Handler interface {
	Join(name, url string) error
	Leave(name string) error
}

type Membership struct {
	Config
	handler Handler
	serf    *serf.Serf
	events  chan serf.Event
	logger  *zap.Logger

	mu    sync.RWMutex
	peers map[string]string
}

func New(handler Handler, config Config) (*Membership, error) {
	m := &Membership{
		Config:  config,
		handler: handler,
		logger:  zap.L().Named("membership"),
		peers:   make(map[string]string),
	}
	if err := m.setupSerf(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Membership) setupSerf() (err error) {
	addr, err := net.ResolveTCPAddr("tcp", m.BindAddr)
	if err != nil {
		return err
	}
	config := serf.DefaultConfig()
	config.Init()
	config.MemberlistConfig.BindAddr = addr.IP.String()
	config.MemberlistConfig.BindPort = addr.Port
	m.events = make(chan serf.Event)
	config.EventCh = m.events
	config.Tags = map[string]string{ConsistencyURLTag: m.AdvertiseURL}
	config.NodeName = m.Config.NodeName
	m.serf, err = serf.Create(config)
	if err != nil {
		return err
	}
	go m.eventHandler()
	if m.StartJoinAddrs != nil {
		_, err = m.serf.Join(m.StartJoinAddrs, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Membership) eventHandler() {
	for e := range m.events {
		switch e.EventType() {
		case serf.EventMemberJoin:
			for _, member := range e.(serf.MemberEvent).Members {
				if m.isLocal(member) {
					continue
				}
				m.handleJoin(member)
			}
		case serf.EventMemberLeave, serf.EventMemberFailed:
			for _, member := range e.(serf.MemberEvent).Members {
				if m.isLocal(member) {
					continue
				}
				m.handleLeave(member)
			}
		}
	}
}

func (m *Membership) handleJoin(member serf.Member) {
	url := member.Tags[ConsistencyURLTag]
	m.mu.Lock()
	m.peers[member.Name] = url
	m.mu.Unlock()
	if m.handler == nil {
		return
	}
	if err := m.handler.Join(member.Name, url); err != nil {
		m.logError(err, "failed to join", member)
	}
}

func (m *Membership) handleLeave(member serf.Member) {
	m.mu.Lock()
	delete(m.peers, member.Name)
	m.mu.Unlock()
	if m.handler == nil {
		return
	}
	if err := m.handler.Leave(member.Name); err != nil {
		m.logError(err, "failed to leave", member)
	}
}

func (m *Membership) isLocal(member serf.Member) bool {
	return m.serf.LocalMember().Name == member.Name
}

func (m *Membership) LocalMember() string {
	return m.serf.LocalMember().Name
}

func (m *Membership) Members() []serf.Member {
	return m.serf.Members()
}

// PeerURLs returns the consistency endpoints of all other live members.
func (m *Membership) PeerURLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	urls := make([]string, 0, len(m.peers))
	for _, url := range m.peers {
		if url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

func (m *Membership) Leave() error {
	return m.serf.Leave()
}

func (m *Membership) logError(err error, msg string, member serf.Member) {
	m.logger.Error(
		msg,
		zap.Error(err),
		zap.String("name", member.Name),
		zap.String(ConsistencyURLTag, member.Tags[ConsistencyURLTag]),
	)
}
