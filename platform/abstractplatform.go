package platform

import (
	"errors"
	"sync"

	"lautenbacher.net/godac/config"
	"periph.io/x/conn/v3"
)

var errShuttingDown = errors.New("platform is shutting down")

// AbstractPlatform carries what every backend shares: the configuration, the
// ready channel and the shutdown flag that gates the SPI connection.
type AbstractPlatform struct {
	config         *config.Config
	readyChan      chan bool
	readyOnce      sync.Once
	shutdownMutex  sync.RWMutex
	isShuttingDown bool
}

func newAbstractPlatform(conf *config.Config) *AbstractPlatform {
	return &AbstractPlatform{
		config:    conf,
		readyChan: make(chan bool),
	}
}

func (s *AbstractPlatform) Ready() <-chan bool {
	return s.readyChan
}

func (s *AbstractPlatform) setReady() {
	s.readyOnce.Do(func() { close(s.readyChan) })
}

func (s *AbstractPlatform) setInShutdown() {
	s.shutdownMutex.Lock()
	s.isShuttingDown = true
	s.shutdownMutex.Unlock()
}

// guard wraps c so that transfers fail once shutdown has started. A transfer
// already in flight finishes before Stop can proceed.
func (s *AbstractPlatform) guard(c conn.Conn) conn.Conn {
	return &guardedConn{Conn: c, p: s}
}

type guardedConn struct {
	conn.Conn
	p *AbstractPlatform
}

func (g *guardedConn) Tx(w, r []byte) error {
	g.p.shutdownMutex.RLock()
	defer g.p.shutdownMutex.RUnlock()
	if g.p.isShuttingDown {
		return errShuttingDown
	}
	return g.Conn.Tx(w, r)
}
