package replication

import (
	goerrors "errors"
	"fmt"
	"slices"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/sessamekesh/netsync/pkg/peer"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
)

type Role uint8

const (
	Role_Server Role = iota
	Role_Client
)

// Host is the peer a replicator runs on. Both peer.Server and peer.Client
// satisfy it.
type Host interface {
	Registry() *message.Registry
	LocalTime() float64
	SendRate() int
	SnapshotBufferSizeLimit() int
	Connection(connId uint32) (*peer.Connection, bool)
	ConnectionIds() []uint32
	OnConnected(fn func(connId uint32))
	OnBroadcast(fn func(localTime float64))
	SendTo(connId uint32, msg message.Serializable, channel transport.Channel) error
}

type ReplicatorParams struct {
	Host Host
	Role Role

	// Send rate of the remote side, used to size snapshot buffers. Defaults
	// to the host's own send rate.
	RemoteSendRate int

	Logger *zap.Logger
}

// Replicator owns every TransformSyncer of one peer. It sends updates for
// owned objects from the peer's broadcast hook and routes received updates
// and resync requests to the right syncer.
type Replicator struct {
	host Host
	role Role
	log  *zap.Logger

	remoteSendRate int

	syncers map[uint32]*TransformSyncer
}

func CreateReplicator(params ReplicatorParams) (*Replicator, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.RemoteSendRate <= 0 {
		params.RemoteSendRate = params.Host.SendRate()
	}

	r := &Replicator{
		host:           params.Host,
		role:           params.Role,
		log:            logger.With(zap.String("handler", "Replicator")),
		remoteSendRate: params.RemoteSendRate,
		syncers:        make(map[uint32]*TransformSyncer),
	}

	registry := params.Host.Registry()
	if err := registry.Register(message.MessageId_TransformSync, "TransformSync", r.handleTransformSync); err != nil {
		return nil, err
	}
	if err := message.Handle(registry, message.MessageId_ResyncRequest, "ResyncRequest", message.ParseResyncRequestMessage, r.handleResyncRequest); err != nil {
		return nil, err
	}

	params.Host.OnConnected(r.onConnected)
	params.Host.OnBroadcast(r.broadcast)

	return r, nil
}

type SyncerParams struct {
	NetId    uint32
	Settings Settings

	// Set on the side that owns the object
	Source TransformSource
	// Set on the side that follows it
	Target TransformTarget

	// For client owned objects on the server, the owning connection
	Owner uint32
}

// Add creates a syncer. The side owning the object per Settings.Direction
// must pass a Source, the other side a Target.
func (r *Replicator) Add(params SyncerParams) (*TransformSyncer, error) {
	if _, has := r.syncers[params.NetId]; has {
		return nil, &errors.NameCollision{CollisionContext: "TransformSyncer", Name: fmt.Sprintf("netId=%d", params.NetId)}
	}

	owned := r.owns(params.Settings.Direction)
	if owned && params.Source == nil {
		return nil, &errors.MissingFieldError{MessageName: "SyncerParams", FieldName: "Source"}
	}
	if !owned && params.Target == nil {
		return nil, &errors.MissingFieldError{MessageName: "SyncerParams", FieldName: "Target"}
	}

	sp := syncerParams{
		netId:       params.NetId,
		settings:    params.Settings,
		sendRate:    r.remoteSendRate,
		bufferLimit: r.host.SnapshotBufferSizeLimit(),
		logger:      r.log,
	}
	if owned {
		sp.source = params.Source
	} else {
		sp.target = params.Target
	}

	s, err := createTransformSyncer(sp)
	if err != nil {
		return nil, err
	}
	s.SetOwner(params.Owner)

	r.syncers[params.NetId] = s
	r.log.Debug("Added syncer",
		zap.Uint32("netId", params.NetId),
		zap.Stringer("direction", params.Settings.Direction),
		zap.Bool("owned", owned))
	return s, nil
}

func (r *Replicator) Remove(netId uint32) {
	delete(r.syncers, netId)
}

func (r *Replicator) Get(netId uint32) (*TransformSyncer, bool) {
	s, has := r.syncers[netId]
	return s, has
}

func (r *Replicator) Count() int {
	return len(r.syncers)
}

// Update steps interpolation of every followed object. Call once per frame
// after the host's EarlyUpdate.
func (r *Replicator) Update(deltaTime float64) {
	for _, s := range r.syncers {
		s.Update(deltaTime)
	}
}

func (r *Replicator) owns(direction SyncDirection) bool {
	if r.role == Role_Server {
		return direction == SyncDirection_ServerToClient
	}
	return direction == SyncDirection_ClientToServer
}

func (r *Replicator) sortedNetIds() []uint32 {
	ids := make([]uint32, 0, len(r.syncers))
	for id := range r.syncers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// A new observer has no baselines, everything owned goes out in full.
func (r *Replicator) onConnected(connId uint32) {
	for _, s := range r.syncers {
		if s.IsOwner() {
			s.ForceFullSync()
		}
	}
}

func (r *Replicator) broadcast(localTime float64) {
	connIds := r.host.ConnectionIds()
	if len(connIds) == 0 {
		return
	}

	for _, netId := range r.sortedNetIds() {
		s := r.syncers[netId]
		if !s.IsOwner() {
			continue
		}

		msg, ok, err := s.Serialize()
		if err != nil {
			r.log.Warn("Failed to serialize transform", zap.Uint32("netId", netId), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		for _, connId := range connIds {
			if err := r.host.SendTo(connId, msg, s.settings.Channel); err != nil {
				r.log.Warn("Failed to send transform",
					zap.Uint32("netId", netId),
					zap.Uint32("connId", connId),
					zap.Error(err))
			}
		}
	}
}

func (r *Replicator) handleTransformSync(connId uint32, payload []byte) error {
	msg, err := message.ParseTransformSyncMessage(netbuf.NewReader(payload))
	if err != nil {
		return err
	}

	s, has := r.syncers[msg.NetId]
	if !has {
		return &errors.UnknownNetId{NetId: msg.NetId}
	}

	var remoteTime float64
	if c, has := r.host.Connection(connId); has {
		remoteTime = c.RemoteTimeStamp()
	}
	localTime := r.host.LocalTime()

	if r.role == Role_Server {
		err = s.OnClientToServerSync(connId, msg, remoteTime, localTime)
	} else {
		err = s.OnServerToClientSync(msg, remoteTime, localTime)
	}

	var missing *errors.MissingBaseline
	if goerrors.As(err, &missing) {
		if s.needsResync() {
			r.log.Info("Requesting resync", zap.Uint32("netId", msg.NetId), zap.Uint32("connId", connId))
			if sendErr := r.host.SendTo(connId, message.ResyncRequestMessage{NetId: msg.NetId}, transport.Channel_Reliable); sendErr != nil {
				r.log.Warn("Failed to request resync", zap.Error(sendErr))
			}
		}
		return nil
	}
	return err
}

func (r *Replicator) handleResyncRequest(connId uint32, msg message.ResyncRequestMessage) {
	s, has := r.syncers[msg.NetId]
	if !has || !s.IsOwner() {
		r.log.Warn("Resync request for object not owned here",
			zap.Uint32("netId", msg.NetId),
			zap.Uint32("connId", connId))
		return
	}
	s.ForceFullSync()
}
