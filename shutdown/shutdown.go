// Package shutdown routes the platform's termination signals to the recorder
// so an open session is discarded before exit.
package shutdown

import (
	"os"
	"os/signal"
)

// Notify relays every termination signal to ch.
func Notify(ch chan<- os.Signal) {
	signal.Notify(ch, signals...)
}
