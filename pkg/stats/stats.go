// Package stats prints periodic connection statistics for the demo
// binaries: RTT, packet counters, loss, and bandwidth, as a tabwriter
// table on whatever writer the caller provides.
package stats

import (
	"fmt"
	"io"
	"text/tabwriter"

	"RUDP/pkg/connection"
	"RUDP/pkg/flowcontrol"
)

// Reporter accumulates tick time and emits one table row per
// interval. The header row is written once, before the first row.
type Reporter struct {
	out         io.Writer
	interval    float64
	accumulator float64
	wroteHeader bool
}

func NewReporter(out io.Writer, interval float64) *Reporter {
	return &Reporter{out: out, interval: interval}
}

// Update advances the reporter by deltaTime seconds and prints a row
// when the interval has elapsed.
func (r *Reporter) Update(deltaTime float64, conn *connection.Connection, fc *flowcontrol.FlowControl) {
	r.accumulator += deltaTime
	if r.accumulator < r.interval {
		return
	}
	r.accumulator = 0
	r.Report(conn, fc)
}

// Report prints one statistics row immediately.
func (r *Reporter) Report(conn *connection.Connection, fc *flowcontrol.FlowControl) {
	tr := conn.Tracker()
	w := tabwriter.NewWriter(r.out, 1, 1, 3, ' ', 0)
	if !r.wroteHeader {
		fmt.Fprintln(w, "rtt\tsent\tacked\tlost\tsent bw\tacked bw\tmode\trate")
		r.wroteHeader = true
	}
	lossPercent := 0.0
	if tr.SentPackets() > 0 {
		lossPercent = float64(tr.LostPackets()) / float64(tr.SentPackets()) * 100.0
	}
	fmt.Fprintf(w, "%.1fms\t%d\t%d\t%d (%.1f%%)\t%.1fkbps\t%.1fkbps\t%s\t%.0fpps\n",
		tr.RoundTripTime()*1000.0,
		tr.SentPackets(),
		tr.AckedPackets(),
		tr.LostPackets(), lossPercent,
		tr.SentBandwidth(),
		tr.AckedBandwidth(),
		fc.Mode(),
		fc.SendRate())
	w.Flush()
}
