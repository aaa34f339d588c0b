package domain

import "time"

// OpenSession is a read-only view of one open session, used by the router
// and the quota view. Copies only what routing needs; never aliases the
// live session.
type OpenSession struct {
	AgentID      AgentID
	OpenedAt     time.Time
	LastActiveAt time.Time
}
