package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/kellegous/poop"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kellegous/movehub"
)

// Server exposes a hub transport to relay clients. It serves one client
// at a time, mirroring every hub notification to the connected client
// and forwarding the client's writes to the hub.
type Server struct {
	tx  movehub.Transport
	log zerolog.Logger
}

type ServerOption func(*Server)

func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(tx movehub.Transport, opts ...ServerOption) *Server {
	s := &Server{
		tx:  tx,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts clients until the context is canceled or the hub powers
// off. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return lis.Close()
	})

	g.Go(func() error {
		for {
			conn, err := lis.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return poop.Chain(err)
			}

			s.log.Info().
				Str("addr", conn.RemoteAddr().String()).
				Msg("client connected")

			if err := s.handle(ctx, conn); err != nil {
				s.log.Warn().Err(err).Msg("client session ended")
			}
		}
	})

	err := g.Wait()
	s.tx.SetReceiver(nil)
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	s.tx.SetReceiver(func(frame []byte) {
		line, err := marshalLine(typeNotification, frame)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to encode notification")
			return
		}
		if _, err := conn.Write(line); err != nil {
			s.log.Warn().Err(err).Msg("failed to push notification")
		}
		if isShutdownFrame(frame) {
			s.log.Warn().Msg("hub shutdown observed")
			conn.Close()
		}
	})
	defer s.tx.SetReceiver(nil)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := s.dispatch(line); err != nil {
			s.log.Warn().Err(err).
				Str("line", string(line)).
				Msg("failed to handle command")
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(line []byte) error {
	var m message
	if err := json.Unmarshal(line, &m); err != nil {
		return poop.Chain(err)
	}

	if m.Type != typeWrite {
		return poop.Newf("unhandled command type %q", m.Type)
	}

	frame, err := m.frame()
	if err != nil {
		return poop.Chain(err)
	}

	if _, err := s.tx.Write(frame); err != nil {
		return poop.Chain(err)
	}
	return nil
}

// isShutdownFrame peeks at the message type without a full decode.
func isShutdownFrame(frame []byte) bool {
	header := 1
	if len(frame) > 0 && frame[0]&0x80 != 0 {
		header = 2
	}
	return len(frame) > header+1 &&
		movehub.MessageType(frame[header+1]) == movehub.MessageTypeHubShutdown
}
