package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/tturner/cipadapter/internal/server"
)

// RenderStatus renders a snapshot as stacked boxes. It backs both the
// status command and the live dashboard.
func RenderStatus(snap *server.Snapshot, width int, s Styles) string {
	if snap == nil {
		return s.Dim.Render("no status yet")
	}
	parts := []string{
		SectionBox("IDENTITY", renderIdentity(snap, s), width, s),
		SectionBox(fmt.Sprintf("SESSIONS (%d)", len(snap.Sessions)), renderSessions(snap, s), width, s),
		SectionBox(fmt.Sprintf("CONNECTIONS (%d)", len(snap.Connections)), renderConnections(snap, s), width, s),
		SectionBox("ASSEMBLIES", renderAssemblies(snap, width, s), width, s),
		SectionBox("CONNECTION MANAGER", renderCounters(snap, s), width, s),
	}
	return strings.Join(parts, "\n")
}

func renderIdentity(snap *server.Snapshot, s Styles) string {
	id := snap.Identity
	owned := s.Dim.Render("not owned")
	if id.Owned {
		owned = s.Success.Render("owned")
	}
	inactivity := "disabled"
	if snap.InactivityTimeout > 0 {
		inactivity = snap.InactivityTimeout.String()
	}
	lines := []string{
		Field("Adapter", s.Bold.Render(snap.Name), s),
		Field("Product", fmt.Sprintf("%s  rev %s", id.ProductName, id.Revision), s),
		Field("Vendor/Type", fmt.Sprintf("%d / 0x%02X  code %d", id.VendorID, id.DeviceType, id.ProductCode), s),
		Field("Serial", fmt.Sprintf("0x%08X", id.Serial), s),
		Field("Address", id.Address, s),
		Field("Status", fmt.Sprintf("0x%04X  %s", id.Status, owned), s),
		Field("Inactivity", inactivity, s),
	}
	if snap.PendingDelayed > 0 {
		lines = append(lines, Field("Delayed", s.Warning.Render(fmt.Sprint(snap.PendingDelayed)), s))
	}
	return strings.Join(lines, "\n")
}

func renderSessions(snap *server.Snapshot, s Styles) string {
	if len(snap.Sessions) == 0 {
		return s.Dim.Render("no sessions")
	}
	t := Table{Headers: []string{"HANDLE", "REMOTE", "IDLE"}}
	for _, sess := range snap.Sessions {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("0x%08X", sess.Handle),
			sess.Remote.String(),
			formatDuration(sess.IdleFor.Seconds()),
		})
	}
	return t.Render(s)
}

func renderConnections(snap *server.Snapshot, s Styles) string {
	if len(snap.Connections) == 0 {
		return s.Dim.Render("no connections")
	}
	t := Table{Headers: []string{"#", "STATE", "TYPE", "POINTS", "RPI O→T/T→O", "T→O", "DESTINATION"}}
	for _, c := range snap.Connections {
		t.Rows = append(t.Rows, []string{
			fmt.Sprint(c.Number),
			StateIcon(c.State, s) + " " + c.State,
			c.Type,
			fmt.Sprintf("%d/%d/%d", c.ConfigPoint, c.ConsumingPoint, c.ProducingPoint),
			fmt.Sprintf("%s/%s", rpi(c.OToTRPI), rpi(c.TToORPI)),
			c.TToOType,
			c.Destination.String(),
		})
	}
	return t.Render(s)
}

func renderAssemblies(snap *server.Snapshot, width int, s Styles) string {
	if len(snap.Assemblies) == 0 {
		return s.Dim.Render("no assemblies")
	}
	dataWidth := max(width-60, 16)
	t := Table{Headers: []string{"INST", "NAME", "DIR", "PATTERN", "SIZE", "OWNED", "DATA"}}
	for _, a := range snap.Assemblies {
		t.Rows = append(t.Rows, []string{
			fmt.Sprint(a.Instance),
			truncateString(a.Name, 16),
			a.Direction,
			a.Pattern,
			fmt.Sprint(a.Size),
			CheckIcon(a.Owned, s),
			s.Purple.Render(truncateString(a.Data, dataWidth)),
		})
	}
	return t.Render(s)
}

func renderCounters(snap *server.Snapshot, s Styles) string {
	c := snap.Counters
	rejects := int(c.OpenFormatRejects) + int(c.OpenResourceRejects) + int(c.OpenOtherRejects)
	rejectText := fmt.Sprint(rejects)
	if rejects > 0 {
		rejectText = s.Warning.Render(rejectText)
	}
	timeouts := fmt.Sprint(c.ConnectionTimeouts)
	if c.ConnectionTimeouts > 0 {
		timeouts = s.Error.Render(timeouts)
	}
	return strings.Join([]string{
		Field("Opens", fmt.Sprintf("%d  rejected %s", c.OpenRequests, rejectText), s),
		Field("Closes", fmt.Sprint(c.CloseRequests), s),
		Field("Timeouts", timeouts, s),
	}, "\n")
}

func rpi(us uint32) string {
	d := time.Duration(us) * time.Microsecond
	if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
	return d.String()
}
