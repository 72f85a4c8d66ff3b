package store

import "fmt"

// Lock keys are laid out as <prefix>:<showtime_id>:<seat_code> so that one
// showtime's seats share a scan prefix and the sweeper can enumerate every
// lock under the service prefix.

// Key builds the lock key for one seat of one showtime.
func Key(prefix string, showtimeID int64, seatCode string) string {
	return fmt.Sprintf("%s:%d:%s", prefix, showtimeID, seatCode)
}

// ShowtimePrefix is the scan prefix covering all seats of a showtime.
func ShowtimePrefix(prefix string, showtimeID int64) string {
	return fmt.Sprintf("%s:%d:", prefix, showtimeID)
}

// ServicePrefix is the scan prefix covering every lock key the service owns.
func ServicePrefix(prefix string) string {
	return prefix + ":"
}
