// Package server implements the three-listener TCP front end spec.md
// §4.4 describes: a query channel, a read channel, and a write channel,
// each dispatched to its own wire framing in internal/protocol, serviced
// by a configurable worker pool. Connections are handed off through a
// single work queue regardless of which listener accepted them, and every
// worker serves every channel; no worker is dedicated to one channel.
package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blockvault/blockvault/internal/engine"
	"github.com/blockvault/blockvault/internal/protocol"
	"github.com/blockvault/blockvault/pkg/options"
)

type channelKind int

const (
	queryChannel channelKind = iota
	readChannel
	writeChannel
)

func (k channelKind) String() string {
	switch k {
	case queryChannel:
		return "query"
	case readChannel:
		return "read"
	case writeChannel:
		return "write"
	default:
		return "unknown"
	}
}

type job struct {
	conn net.Conn
	kind channelKind
}

// Server accepts connections on the query/read/write ports and dispatches
// each to the matching protocol handler.
type Server struct {
	opts *options.Options
	log  *zap.SugaredLogger
	img  *engine.Image

	queryListener net.Listener
	readListener  net.Listener
	writeListener net.Listener

	jobs chan job

	acceptWG sync.WaitGroup
	workerWG sync.WaitGroup

	stopped  chan struct{}
	stopOnce sync.Once

	Counters Counters
}

// New constructs a Server bound to img, using opts.Server's port and
// worker-pool configuration. Listeners are not opened until Serve.
func New(img *engine.Image, opts *options.Options, log *zap.SugaredLogger) *Server {
	return &Server{
		opts:    opts,
		log:     log,
		img:     img,
		jobs:    make(chan job, 64),
		stopped: make(chan struct{}),
	}
}

// Serve opens the three listeners and starts the accept loops and worker
// pool. It returns once listening has started; use Join to block until
// shutdown completes.
func (s *Server) Serve() error {
	var err error
	if s.queryListener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Server.QueryPort)); err != nil {
		return fmt.Errorf("listen query port %d: %w", s.opts.Server.QueryPort, err)
	}
	if s.readListener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Server.ReadPort)); err != nil {
		s.queryListener.Close()
		return fmt.Errorf("listen read port %d: %w", s.opts.Server.ReadPort, err)
	}
	if s.writeListener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Server.WritePort)); err != nil {
		s.queryListener.Close()
		s.readListener.Close()
		return fmt.Errorf("listen write port %d: %w", s.opts.Server.WritePort, err)
	}

	s.acceptWG.Add(3)
	go s.acceptLoop(s.queryListener, queryChannel)
	go s.acceptLoop(s.readListener, readChannel)
	go s.acceptLoop(s.writeListener, writeChannel)

	workers := s.opts.Server.Workers
	if workers < 1 {
		workers = 1
	}
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}

	go func() {
		s.acceptWG.Wait()
		close(s.jobs)
	}()

	s.log.Infow("server listening",
		"queryPort", s.opts.Server.QueryPort,
		"readPort", s.opts.Server.ReadPort,
		"writePort", s.opts.Server.WritePort,
		"workers", workers,
	)
	return nil
}

// Shutdown closes the listening sockets, interrupting Accept on all three
// channels. Connections already handed to a worker are not closed: their
// handlers keep serving requests until the client disconnects, and Join
// waits for that. Safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		for _, ln := range []net.Listener{s.queryListener, s.readListener, s.writeListener} {
			if ln != nil {
				ln.Close()
			}
		}
	})
}

// Join blocks until every accept loop and worker has exited.
func (s *Server) Join() {
	s.acceptWG.Wait()
	s.workerWG.Wait()
}

func (s *Server) acceptLoop(ln net.Listener, kind channelKind) {
	defer s.acceptWG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case s.jobs <- job{conn: conn, kind: kind}:
		case <-s.stopped:
			conn.Close()
			return
		}
	}
}

func (s *Server) worker() {
	defer s.workerWG.Done()
	for j := range s.jobs {
		s.handle(j)
	}
}

func (s *Server) handle(j job) {
	defer j.conn.Close()

	s.Counters.connectionCount.Add(1)
	s.Counters.eventsStarted.Add(1)
	defer s.Counters.eventsFinished.Add(1)

	connID := uuid.NewString()
	conn := &countingConn{Conn: j.conn, counters: &s.Counters}

	var err error
	switch j.kind {
	case queryChannel:
		err = protocol.HandleQuery(conn, s.img, s.opts.Server.MaxBatchKeys)
	case readChannel:
		err = protocol.HandleRead(conn, s.img)
	case writeChannel:
		err = protocol.HandleWrite(conn, s.img, s.opts.Server.MaxBlockSize, s.opts.Server.BufferedWrites)
	}

	if err != nil {
		s.log.Debugw("connection closed", "channel", j.kind.String(), "connectionId", connID, "error", err)
	}
}
