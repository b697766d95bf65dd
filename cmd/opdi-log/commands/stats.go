package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	MessagesByMagic   map[string]int
	ControlByType     map[log.ControlMsgType]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen     time.Time
	LastSeen      time.Time
	Events        int
	DeviceID      string
	DeviceAddress string
	Replies       int
	TotalLatency  time.Duration
	MaxLatency    time.Duration
	LastState     string
}

// AverageLatency returns the mean request to reply time.
func (c *ConnectionStats) AverageLatency() time.Duration {
	if c.Replies == 0 {
		return 0
	}
	return c.TotalLatency / time.Duration(c.Replies)
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		MessagesByMagic:   make(map[string]int),
		ControlByType:     make(map[log.ControlMsgType]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.DeviceID != "" && conn.DeviceID == "" {
		conn.DeviceID = event.DeviceID
	}
	if event.DeviceAddress != "" && conn.DeviceAddress == "" {
		conn.DeviceAddress = event.DeviceAddress
	}

	if m := event.Message; m != nil {
		if m.Magic != "" {
			s.MessagesByMagic[m.Magic]++
		}
		if m.Elapsed != nil {
			conn.Replies++
			conn.TotalLatency += *m.Elapsed
			conn.MaxLatency = max(conn.MaxLatency, *m.Elapsed)
		}
	}
	if event.ControlMsg != nil {
		s.ControlByType[event.ControlMsg.Type]++
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityDevice {
		conn.LastState = sc.NewState
	}
	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats := newStats()
	if err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		stats.add(event)
		return nil
	}); err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== OPDI Protocol Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.MessagesByMagic) > 0 {
		fmt.Fprintln(w, "Messages by Magic:")
		magics := make([]string, 0, len(stats.MessagesByMagic))
		for m := range stats.MessagesByMagic {
			magics = append(magics, m)
		}
		sort.Strings(magics)
		for _, m := range magics {
			fmt.Fprintf(w, "  %-12s %d\n", m+":", stats.MessagesByMagic[m])
		}
		fmt.Fprintln(w)
	}

	if len(stats.ControlByType) > 0 {
		fmt.Fprintln(w, "Control Messages:")
		for typ := log.ControlMsgPing; typ <= log.ControlMsgRefresh; typ++ {
			if count := stats.ControlByType[typ]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", typ.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.DeviceAddress != "" {
				fmt.Fprintf(w, "           Device: %s\n", c.stats.DeviceAddress)
			}
			if c.stats.Replies > 0 {
				fmt.Fprintf(w, "           Replies: %d (avg %s, max %s)\n",
					c.stats.Replies, formatDuration(c.stats.AverageLatency()), formatDuration(c.stats.MaxLatency))
			}
			if c.stats.LastState != "" {
				fmt.Fprintf(w, "           Last state: %s\n", c.stats.LastState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
