package state

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a snowdag node: Initialising, CatchingUp,
// Running or Shutdown
type State uint32

const (
	// Initialising is the state of a node that has not loaded its genesis
	// block and saved peers yet.
	Initialising State = iota

	// CatchingUp is the state in which a node discovers the network and
	// catches up the accounts reachable from the genesis recipient. It
	// answers queries but its ledger may be behind.
	CatchingUp

	// Running is the state in which a node processes blocks and takes part
	// in consensus sessions.
	Running

	// Shutdown is the state in which a node stops accepting blocks and waits
	// for its background routines.
	Shutdown
)

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.GoFunc
const WGLIMIT = 20

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Initialising:
		return "Initialising"
	case CatchingUp:
		return "CatchingUp"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods. It is also used to limit the
// number of goroutines launched by the node, and to wait for all of them to
// complete.
type Manager struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32

	taskLock sync.RWMutex
	tasks    sync.WaitGroup
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// GoFunc launches a goroutine for a given function, if there are currently
// less than WGLIMIT running. It increments the waitgroup, and returns false
// when the function was dropped.
func (b *Manager) GoFunc(f func()) bool {
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&b.wgCount, -1)
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

// Running returns the number of goroutines launched through GoFunc that have
// not returned yet.
func (b *Manager) Running() int {
	return int(atomic.LoadInt32(&b.wgCount))
}

// WaitRoutines waits for all the goroutines in the waitgroup.
func (b *Manager) WaitRoutines() {
	b.wg.Wait()
}

// BeginTask registers an in-flight task, such as a block submission. It
// returns false, and registers nothing, once the state is Shutdown. Every
// successful call must be matched by EndTask.
func (b *Manager) BeginTask() bool {
	b.taskLock.RLock()
	defer b.taskLock.RUnlock()

	if b.GetState() == Shutdown {
		return false
	}
	b.tasks.Add(1)
	return true
}

// EndTask marks a task registered by BeginTask as done.
func (b *Manager) EndTask() {
	b.tasks.Done()
}

// WaitTasks waits for the tasks registered before the state was set to
// Shutdown. It must be called after SetState(Shutdown).
func (b *Manager) WaitTasks() {
	// no BeginTask is past its state check once the write lock is taken
	b.taskLock.Lock()
	b.taskLock.Unlock()

	b.tasks.Wait()
}
