package models

// Table names shared by the offline queue, the remote boundary and realtime broadcasts
const (
	TableRunners     = "runners"
	TableLegs        = "legs"
	TableLeaderboard = "leaderboard"
)
