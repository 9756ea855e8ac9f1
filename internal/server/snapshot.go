package server

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tturner/cipadapter/internal/server/connmgr"
	"github.com/tturner/cipadapter/internal/server/core"
	"github.com/tturner/cipadapter/internal/server/objects"
)

// Snapshot is a consistent copy of the adapter state taken on the protocol
// loop. Readers on other goroutines must treat it as immutable.
type Snapshot struct {
	Name              string                   `json:"name"`
	Taken             time.Time                `json:"taken"`
	Identity          IdentityView             `json:"identity"`
	Sessions          []core.SessionInfo       `json:"sessions"`
	Connections       []connmgr.ConnectionInfo `json:"connections"`
	Assemblies        []AssemblyView           `json:"assemblies"`
	Counters          connmgr.Counters         `json:"connection_manager"`
	PendingDelayed    int                      `json:"pending_delayed"`
	InactivityTimeout time.Duration            `json:"inactivity_timeout_ns"`
}

// IdentityView is the Identity object as reported to status clients.
type IdentityView struct {
	VendorID    uint16 `json:"vendor_id"`
	DeviceType  uint16 `json:"device_type"`
	ProductCode uint16 `json:"product_code"`
	Revision    string `json:"revision"`
	Status      uint16 `json:"status"`
	Owned       bool   `json:"owned"`
	Serial      uint32 `json:"serial"`
	ProductName string `json:"product_name"`
	Address     string `json:"address"`
}

// AssemblyView is one assembly instance and its current image.
type AssemblyView struct {
	Instance  uint16    `json:"instance"`
	Name      string    `json:"name"`
	Direction string    `json:"direction"`
	Pattern   string    `json:"pattern"`
	Size      int       `json:"size"`
	Data      string    `json:"data"` // hex
	Owned     bool      `json:"owned"`
	Updated   time.Time `json:"updated"`
}

// Assembly returns the view of instance.
func (s *Snapshot) Assembly(instance uint16) (AssemblyView, bool) {
	for _, a := range s.Assemblies {
		if a.Instance == instance {
			return a, true
		}
	}
	return AssemblyView{}, false
}

// Connection returns the connection with the given table number.
func (s *Snapshot) Connection(number uint16) (connmgr.ConnectionInfo, bool) {
	for _, c := range s.Connections {
		if c.Number == number {
			return c, true
		}
	}
	return connmgr.ConnectionInfo{}, false
}

// publish replaces the snapshot when forced, when the loop marked state
// dirty, or when the last one is older than snapshotInterval.
func (a *Adapter) publish(force bool) {
	now := a.now()
	if !force && !a.dirty && now.Sub(a.published) < snapshotInterval {
		return
	}
	a.snapshot.Store(a.buildSnapshot(now))
	a.published = now
	a.dirty = false
}

func (a *Adapter) buildSnapshot(now time.Time) *Snapshot {
	info := a.identityInfo()
	snap := &Snapshot{
		Name:  a.cfg.Server.Name,
		Taken: now,
		Identity: IdentityView{
			VendorID:    info.VendorID,
			DeviceType:  info.DeviceType,
			ProductCode: info.ProductCode,
			Revision:    fmt.Sprintf("%d.%d", info.Major, info.Minor),
			Status:      info.Status,
			Owned:       info.Status&objects.StatusOwned != 0,
			Serial:      info.Serial,
			ProductName: info.ProductName,
			Address:     info.Address.String(),
		},
		Sessions:          a.engine.Sessions(),
		Connections:       a.conns.Connections(),
		Counters:          a.conns.Counters(),
		PendingDelayed:    a.engine.PendingDelayed(),
		InactivityTimeout: a.tcpip.InactivityTimeout(),
	}
	for _, asm := range a.assemblies.List() {
		cfg := asm.Config()
		snap.Assemblies = append(snap.Assemblies, AssemblyView{
			Instance:  cfg.Instance,
			Name:      cfg.Name,
			Direction: string(cfg.Direction),
			Pattern:   string(cfg.Pattern),
			Size:      asm.Size(),
			Data:      hex.EncodeToString(asm.Data()),
			Owned:     a.conns.PointOwned(cfg.Instance),
			Updated:   asm.Updated(),
		})
	}
	return snap
}
