/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package channel

// Tomb tracks the shutdown handshake of a single background goroutine.
type Tomb struct {
	stop chan struct{}
	done chan struct{}
}

func NewTomb() *Tomb {
	return &Tomb{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Stop signals the goroutine and blocks until it has confirmed exit.
func (t *Tomb) Stop() {
	close(t.stop)
	<-t.done
}

// Stopping is the channel the goroutine selects on to learn it should exit.
func (t *Tomb) Stopping() <-chan struct{} {
	return t.stop
}

// Done is called by the goroutine as its last action.
func (t *Tomb) Done() {
	close(t.done)
}

func (t *Tomb) IsStopped() bool {
	return IsChannelClosed(t.stop)
}
