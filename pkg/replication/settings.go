package replication

import (
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/snapshot"
	"github.com/sessamekesh/netsync/pkg/transport"
)

type SyncDirection uint8

const (
	SyncDirection_ServerToClient SyncDirection = iota
	SyncDirection_ClientToServer
)

func (d SyncDirection) String() string {
	switch d {
	case SyncDirection_ServerToClient:
		return "ServerToClient"
	case SyncDirection_ClientToServer:
		return "ClientToServer"
	}
	return "Unknown"
}

// Settings must match on both ends of a syncer.
type Settings struct {
	Direction SyncDirection

	SyncPosition bool
	SyncRotation bool
	SyncScale    bool

	PositionPrecision float64
	ScalePrecision    float64

	// Rotation is sent as 4 bytes (smallest three) instead of 32
	CompressRotation bool

	// Skip sends when nothing changed since the last one
	OnlySyncOnChange bool

	// A full update is sent after this many deltas. Zero only sends full
	// updates when forced.
	FullSyncInterval int

	// Deltas need every update to arrive, so on the unreliable channel every
	// update is sent in full.
	Channel transport.Channel

	Snapshot snapshot.Settings
}

func DefaultSettings() Settings {
	return Settings{
		Direction:         SyncDirection_ServerToClient,
		SyncPosition:      true,
		SyncRotation:      true,
		SyncScale:         false,
		PositionPrecision: 0.01,
		ScalePrecision:    0.01,
		CompressRotation:  true,
		OnlySyncOnChange:  true,
		FullSyncInterval:  30,
		Channel:           transport.Channel_Reliable,
		Snapshot:          snapshot.DefaultSettings(),
	}
}

func (s Settings) validate() error {
	if s.SyncPosition && !(s.PositionPrecision > 0) {
		return &errors.InvalidPrecision{Precision: s.PositionPrecision}
	}
	if s.SyncScale && !(s.ScalePrecision > 0) {
		return &errors.InvalidPrecision{Precision: s.ScalePrecision}
	}
	if s.Channel >= transport.Channel_Count {
		return &errors.InvalidEnumValue{EnumName: "Channel", IntValue: uint8(s.Channel)}
	}
	if s.Direction > SyncDirection_ClientToServer {
		return &errors.InvalidEnumValue{EnumName: "SyncDirection", IntValue: uint8(s.Direction)}
	}
	return nil
}

func (s Settings) deltasAllowed() bool {
	return s.Channel == transport.Channel_Reliable
}
