package replication

import (
	"fmt"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/sessamekesh/netsync/pkg/snapshot"
	"go.uber.org/zap"
)

// TransformSource produces the current state on the owning side.
type TransformSource interface {
	Construct() Transform
}

// TransformTarget receives interpolated state on the other side.
type TransformTarget interface {
	Apply(t Transform)
}

type TransformSourceFunc func() Transform

func (f TransformSourceFunc) Construct() Transform { return f() }

type TransformTargetFunc func(t Transform)

func (f TransformTargetFunc) Apply(t Transform) { f(t) }

// TransformSyncer replicates one object. On the owning side it serializes
// updates; on the other side it buffers and interpolates them. Not safe for
// concurrent use.
type TransformSyncer struct {
	netId    uint32
	settings Settings
	codec    codec
	log      *zap.Logger

	source TransformSource
	target TransformTarget

	// For client owned objects on the server, the only connection allowed
	// to send updates. Zero accepts none.
	owner uint32

	sendBaseline    baseline
	forceFull       bool
	deltasSinceFull int
	writer          *netbuf.Writer

	recvBaseline    baseline
	buffer          *snapshot.Buffer[snapshot.TransformSnapshot]
	bufferLimit     int
	resyncRequested bool
}

type syncerParams struct {
	netId       uint32
	settings    Settings
	source      TransformSource
	target      TransformTarget
	sendRate    int
	bufferLimit int
	logger      *zap.Logger
}

func createTransformSyncer(params syncerParams) (*TransformSyncer, error) {
	if err := params.settings.validate(); err != nil {
		return nil, err
	}

	s := &TransformSyncer{
		netId:       params.netId,
		settings:    params.settings,
		codec:       codec{settings: params.settings},
		log:         params.logger.With(zap.Uint32("netId", params.netId)),
		source:      params.source,
		target:      params.target,
		bufferLimit: params.bufferLimit,
	}

	if s.source != nil {
		s.writer = netbuf.NewWriter(64)
		s.forceFull = true
	}
	if s.target != nil {
		s.buffer = snapshot.CreateBuffer[snapshot.TransformSnapshot](params.sendRate, params.settings.Snapshot)
	}

	return s, nil
}

func (s *TransformSyncer) NetId() uint32 {
	return s.netId
}

func (s *TransformSyncer) Settings() Settings {
	return s.settings
}

// IsOwner reports whether this side sends updates for the object.
func (s *TransformSyncer) IsOwner() bool {
	return s.source != nil
}

// Buffer is nil on the owning side.
func (s *TransformSyncer) Buffer() *snapshot.Buffer[snapshot.TransformSnapshot] {
	return s.buffer
}

func (s *TransformSyncer) Owner() uint32 {
	return s.owner
}

func (s *TransformSyncer) SetOwner(connId uint32) {
	s.owner = connId
}

// ForceFullSync makes the next Serialize send a full update.
func (s *TransformSyncer) ForceFullSync() {
	s.forceFull = true
}

// Serialize builds the next update. ok is false when nothing changed and the
// syncer only sends on change.
func (s *TransformSyncer) Serialize() (msg message.TransformSyncMessage, ok bool, err error) {
	if s.source == nil {
		return msg, false, nil
	}

	t := s.source.Construct()
	current, err := s.codec.quantize(t)
	if err != nil {
		return msg, false, fmt.Errorf("netId=%d: %w", s.netId, err)
	}

	if s.settings.OnlySyncOnChange && !s.forceFull && s.codec.unchanged(s.sendBaseline, current) {
		return msg, false, nil
	}

	full := s.forceFull ||
		!s.sendBaseline.valid ||
		!s.settings.deltasAllowed() ||
		(s.settings.FullSyncInterval > 0 && s.deltasSinceFull >= s.settings.FullSyncInterval)

	s.writer.Reset()
	if full {
		s.codec.writeFull(s.writer, t)
		s.deltasSinceFull = 0
		s.forceFull = false
	} else {
		s.codec.writeDelta(s.writer, s.sendBaseline, current)
		s.deltasSinceFull++
	}
	s.sendBaseline = current

	return message.TransformSyncMessage{
		NetId:   s.netId,
		Full:    full,
		Payload: s.writer.CopyBytes(),
	}, true, nil
}

// OnServerToClientSync handles an update from the server on a client.
func (s *TransformSyncer) OnServerToClientSync(msg message.TransformSyncMessage, remoteTime, localTime float64) error {
	if s.settings.Direction != SyncDirection_ServerToClient {
		return &errors.UnauthorizedSync{NetId: s.netId, Reason: "object is client owned"}
	}
	return s.receive(msg, remoteTime, localTime)
}

// OnClientToServerSync handles an update from the owning client on the
// server.
func (s *TransformSyncer) OnClientToServerSync(connId uint32, msg message.TransformSyncMessage, remoteTime, localTime float64) error {
	if s.settings.Direction != SyncDirection_ClientToServer {
		return &errors.UnauthorizedSync{NetId: s.netId, ConnId: connId, Reason: "object is server owned"}
	}
	if connId == 0 || connId != s.owner {
		return &errors.UnauthorizedSync{NetId: s.netId, ConnId: connId, Reason: "not the owner"}
	}
	return s.receive(msg, remoteTime, localTime)
}

func (s *TransformSyncer) receive(msg message.TransformSyncMessage, remoteTime, localTime float64) error {
	if s.target == nil {
		return &errors.UnauthorizedSync{NetId: s.netId, Reason: "update for an object owned here"}
	}

	r := netbuf.NewReader(msg.Payload)

	var t Transform
	var next baseline
	if msg.Full {
		full, err := s.codec.readFull(r)
		if err != nil {
			return fmt.Errorf("full update netId=%d: %w", s.netId, err)
		}
		t = full
		if next, err = s.codec.quantize(full); err != nil {
			s.log.Warn("Full update cannot serve as a baseline", zap.Error(err))
		}
	} else {
		if !s.recvBaseline.valid {
			return &errors.MissingBaseline{NetId: s.netId}
		}
		delta, err := s.codec.readDelta(r, s.recvBaseline)
		if err != nil {
			return fmt.Errorf("delta update netId=%d: %w", s.netId, err)
		}
		next = delta
		t = s.codec.dequantize(delta)
	}

	if r.Remaining() > 0 {
		return &errors.MalformedField{
			MessageName: "TransformSync",
			Reason:      fmt.Sprintf("%d trailing bytes, sync settings differ between peers", r.Remaining()),
		}
	}

	s.recvBaseline = next
	if msg.Full {
		s.resyncRequested = false
	}

	// An owner that only syncs on change goes quiet while the object rests.
	// Resume from the resting state instead of interpolating across the gap.
	if last, ok := s.buffer.Newest(); ok && remoteTime-last.Remote > s.buffer.IdleGap() {
		interval := s.buffer.SendInterval()
		last.Remote = remoteTime - interval
		last.Local = localTime - interval
		s.buffer.RewriteHistory(last)
	}

	if result := s.buffer.InsertAndAdjust(t.toSnapshot(remoteTime, localTime), s.bufferLimit); result == snapshot.InsertResult_Rejected {
		s.log.Debug("Snapshot buffer full, dropping update", zap.Int("bufferLength", s.buffer.Len()))
	}
	return nil
}

// needsResync reports whether a resync request should go out, and marks one
// as sent until the next full update arrives.
func (s *TransformSyncer) needsResync() bool {
	if s.resyncRequested {
		return false
	}
	s.resyncRequested = true
	return true
}

// Update advances interpolation and applies the result to the target.
func (s *TransformSyncer) Update(deltaTime float64) {
	if s.target == nil {
		return
	}
	from, to, t, ok := s.buffer.Step(deltaTime)
	if !ok {
		return
	}
	s.target.Apply(fromSnapshot(snapshot.InterpolateTransform(from, to, t)))
}

// Reset forgets both baselines and every buffered snapshot, e.g. after a
// teleport. The owning side sends a full update next.
func (s *TransformSyncer) Reset() {
	s.sendBaseline = baseline{}
	s.recvBaseline = baseline{}
	s.deltasSinceFull = 0
	s.resyncRequested = false
	if s.source != nil {
		s.forceFull = true
	}
	if s.buffer != nil {
		s.buffer.Reset()
	}
}
