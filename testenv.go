package main

import (
	"strconv"
	"strings"
	"time"
)

// testDirective handles the scripting verbs used with -test on top of the
// regular commands: WAIT blocks until the stop pipeline finishes, SLEEP <ms>
// pauses the script and QUIT ends it.
func testDirective(a *app, line string) (handled, quit bool) {
	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "WAIT":
		a.orch.Wait()
		return true, false
	case cmd == "QUIT":
		a.orch.Wait()
		return true, true
	case strings.HasPrefix(cmd, "SLEEP "):
		if ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:])); err == nil {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		return true, false
	}
	return false, false
}
