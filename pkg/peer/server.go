package peer

import (
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
)

// Server accepts many connections and broadcasts to all of them.
type Server struct {
	peer
	started bool
}

func CreateServer(params Params) (*Server, error) {
	s := &Server{}
	if err := s.init(params, "Server"); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Start() error {
	s.started = true
	s.log.Info("Server started", zap.Int("sendRate", s.params.SendRate))
	return nil
}

func (s *Server) IsActive() bool {
	return s.started
}

// Broadcast queues msg for every open connection. The message is serialized
// once.
func (s *Server) Broadcast(msg message.Serializable, channel transport.Channel) {
	envelope := message.Marshal(msg)
	for _, connId := range s.ConnectionIds() {
		if err := s.SendRawTo(connId, msg.MessageId(), envelope, channel); err != nil {
			s.log.Warn("Failed to queue broadcast",
				zap.Uint32("connId", connId),
				zap.String("message", s.registry.Name(msg.MessageId())),
				zap.Error(err))
		}
	}
}

// Update runs a whole frame. It does nothing before Start.
func (s *Server) Update(deltaTime float64) {
	if !s.started {
		return
	}
	s.peer.Update(deltaTime)
}

func (s *Server) Stop() {
	if !s.started {
		return
	}
	s.started = false
	s.stop()
	s.log.Info("Server stopped")
}
