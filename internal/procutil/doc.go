// Package procutil holds the platform-specific process checks behind the
// host's pid file.
package procutil
