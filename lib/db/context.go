package db

// Context carries the per-command environment of a slice operation: the
// logical database index and the command's time snapshot. All expiry
// decisions of one command use the same TimeNowMs so a command never
// observes a key both alive and expired.
type Context struct {
	DbIndex   int
	TimeNowMs int64
}
