// Package agents holds the concrete pipeline agents: the moderator that
// owns project state, the techlead that executes tasks, the monitor
// daemon, and the ever-thinker that drives improvement cycles.
package agents

// Well-known agent ids on the bus.
const (
	ModeratorID   = "moderator"
	TechLeadID    = "techlead"
	MonitorID     = "monitor"
	EverThinkerID = "ever_thinker"
)
