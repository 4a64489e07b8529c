package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/yamux"
	"go.uber.org/atomic"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const streamTimeout = 5 * time.Minute

// Handler applies one received message.
type Handler func(ctx context.Context, shardID int, bundle []byte) error

type Server struct {
	logger         log.Logger
	handler        Handler
	listener       net.Listener
	maxMessageSize datasize.ByteSize

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	received *atomic.Uint64

	lock     sync.Mutex
	sessions map[*yamux.Session]struct{}
}

// Listen starts the server, the returned server must be closed.
// Messages longer than maxMessageSize are rejected before the bundle is read.
func Listen(ctx context.Context, logger log.Logger, addr string, maxMessageSize datasize.ByteSize, handler Handler) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot listen on "%s"`, addr)
	}

	s := &Server{
		logger:         logger.WithComponent("requirement.replication.server"),
		handler:        handler,
		listener:       listener,
		maxMessageSize: maxMessageSize,
		wg:             &sync.WaitGroup{},
		received:       atomic.NewUint64(0),
		sessions:       make(map[*yamux.Session]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()

	s.logger.Infof(ctx, `replication receiver listening on "%s"`, s.Addr())
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Received returns number of successfully applied messages.
func (s *Server) Received() uint64 {
	return s.received.Load()
}

func (s *Server) Close(ctx context.Context) error {
	s.logger.Info(ctx, "closing replication receiver")

	s.cancel()
	err := s.listener.Close()

	s.lock.Lock()
	for session := range s.sessions {
		_ = session.Close()
	}
	s.lock.Unlock()

	s.wg.Wait()
	s.logger.Info(ctx, "closed replication receiver")

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Errorf(s.ctx, `cannot accept connection: %s`, err)
			}
			return
		}

		session, err := yamux.Server(conn, multiplexerConfig(s.logger))
		if err != nil {
			s.logger.Errorf(s.ctx, `cannot create session: %s`, err)
			_ = conn.Close()
			continue
		}

		s.logger.Infof(s.ctx, `accepted connection from "%s"`, conn.RemoteAddr())
		s.addSession(session)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.removeSession(session)
			s.acceptStreams(session)
		}()
	}
}

func (s *Server) acceptStreams(session *yamux.Session) {
	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if s.ctx.Err() == nil && !session.IsClosed() {
				s.logger.Warnf(s.ctx, `cannot accept stream: %s`, err)
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(stream)
		}()
	}
}

func (s *Server) handleStream(stream *yamux.Stream) {
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(streamTimeout))

	shardID, bundle, err := readFrame(stream, s.maxMessageSize)
	var tooLargeErr MessageTooLargeError
	if errors.As(err, &tooLargeErr) {
		s.logger.Errorf(s.ctx, `cannot read message for shard %d: %s`, shardID, err)
		if err := writeReply(stream, err); err != nil {
			s.logger.Warnf(s.ctx, `cannot write reply: %s`, err)
		}
		return
	} else if err != nil {
		s.logger.Warnf(s.ctx, `cannot read message: %s`, err)
		return
	}

	err = s.handler(s.ctx, shardID, bundle)
	if err != nil {
		s.logger.Errorf(s.ctx, `cannot apply message for shard %d: %s`, shardID, err)
	} else {
		s.received.Inc()
	}

	if err := writeReply(stream, err); err != nil {
		s.logger.Warnf(s.ctx, `cannot write reply: %s`, err)
	}
}

func (s *Server) addSession(session *yamux.Session) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sessions[session] = struct{}{}
}

func (s *Server) removeSession(session *yamux.Session) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.sessions, session)
	_ = session.Close()
}
