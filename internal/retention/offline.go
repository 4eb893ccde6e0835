package retention

import "sync"

// GoOnlineState is GoOnlineMachine's current step (§4.6.3).
type GoOnlineState int

const (
	GoOnlineNoState GoOnlineState = iota
	GoOnlineSendingUnsent
	GoOnlineSynchronizingImap
	GoOnlineDone
)

// GoOnlineCollaborators supplies the async work GoOnlineMachine drives.
// Each method must call done exactly once, synchronously or later.
type GoOnlineCollaborators interface {
	SendUnsentMessages(done func(err error))
	PlaybackImapOfflineQueue(done func(err error))
}

// GoOnlineMachine drives NoState -> SendingUnsent -> SynchronizingImap ->
// Done, skipping a step when its flag is false, with transitions fired by
// the collaborators' completion callbacks rather than polling.
type GoOnlineMachine struct {
	mu    sync.Mutex
	state GoOnlineState
}

func (m *GoOnlineMachine) setState(s GoOnlineState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the machine's current step.
func (m *GoOnlineMachine) State() GoOnlineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run drives one GoOnline pass, calling onDone exactly once when every
// requested step has completed (or the first one fails).
func (m *GoOnlineMachine) Run(sendUnsent, playbackImap bool, collab GoOnlineCollaborators, onDone func(err error)) {
	m.setState(GoOnlineNoState)

	var afterSend, afterPlayback func(err error)

	afterSend = func(err error) {
		if err != nil {
			onDone(err)
			return
		}
		if playbackImap {
			m.setState(GoOnlineSynchronizingImap)
			collab.PlaybackImapOfflineQueue(afterPlayback)
			return
		}
		afterPlayback(nil)
	}

	afterPlayback = func(err error) {
		if err != nil {
			onDone(err)
			return
		}
		m.setState(GoOnlineDone)
		onDone(nil)
	}

	if sendUnsent {
		m.setState(GoOnlineSendingUnsent)
		collab.SendUnsentMessages(afterSend)
		return
	}
	afterSend(nil)
}

// OfflineState is SynchronizeForOffline's current step. OfflineSetOffline
// is the operation's nominal final step per spec, but the machine never
// actually transitions into it: see SynchronizeForOffline's doc comment.
type OfflineState int

const (
	OfflineNoState OfflineState = iota
	OfflineDownloadingNews
	OfflineDownloadingMail
	OfflineSendingUnsent
	OfflineSetOffline
)

// SynchronizeCollaborators supplies SynchronizeForOffline's async steps.
// Each done callback reports aborted=true for a user-initiated abort
// (NS_BINDING_ABORTED in the historical implementation), which halts the
// machine without firing any later step.
type SynchronizeCollaborators interface {
	DownloadNewsForOffline(done func(err error, aborted bool))
	DownloadMailForOffline(done func(err error, aborted bool))
	SendUnsentMessages(done func(err error, aborted bool))
	SetOffline()
}

// OfflineMachine drives NoState -> DownloadingNews -> DownloadingMail ->
// SendingUnsent -> SetOffline.
type OfflineMachine struct {
	mu    sync.Mutex
	state OfflineState
}

func (m *OfflineMachine) setState(s OfflineState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the machine's current step.
func (m *OfflineMachine) State() OfflineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SynchronizeForOffline drives one pass. Preserves a documented quirk from
// AdvanceToNextState's eDownloadingForOffline switch: the eDownloadingMail
// case always sets curState to eSendingUnsent before checking whether
// sendUnsent was even requested, and the eSendingUnsent case that a later
// completion (synchronous or via SendUnsentMessages's callback) re-enters
// only ever applies goOfflineWhenDone and breaks — no case advances the
// switch beyond eSendingUnsent. So SetOffline can fire while the state is
// still SendingUnsent rather than at any terminal state, and the pass
// never calls onDone once it reaches this point, matching the original's
// operation that never reaches eDone or calls StopRunning here. This is
// intentional: do not "fix" it into a clean completion (§9 open question).
func (m *OfflineMachine) SynchronizeForOffline(downloadNews, downloadMail, sendUnsent, goOfflineWhenDone bool, collab SynchronizeCollaborators, onDone func(err error)) {
	m.setState(OfflineNoState)

	var afterNews, afterMail, afterSend func(err error, aborted bool)

	afterNews = func(err error, aborted bool) {
		if err != nil {
			onDone(err)
			return
		}
		if aborted {
			onDone(nil)
			return
		}
		if downloadMail {
			m.setState(OfflineDownloadingMail)
			collab.DownloadMailForOffline(afterMail)
			return
		}
		afterMail(nil, false)
	}

	afterMail = func(err error, aborted bool) {
		if err != nil {
			onDone(err)
			return
		}
		if aborted {
			onDone(nil)
			return
		}
		m.setState(OfflineSendingUnsent)
		if sendUnsent {
			collab.SendUnsentMessages(afterSend)
			return
		}
		afterSend(nil, false)
	}

	afterSend = func(err error, aborted bool) {
		if err != nil {
			onDone(err)
			return
		}
		if aborted {
			onDone(nil)
			return
		}
		// Re-enters with state still SendingUnsent, same as the original's
		// eSendingUnsent case. goOfflineWhenDone fires here, "when done"
		// though the state is not eDone; nothing advances the state or
		// calls onDone after it.
		if goOfflineWhenDone {
			collab.SetOffline()
		}
	}

	if downloadNews {
		m.setState(OfflineDownloadingNews)
		collab.DownloadNewsForOffline(afterNews)
		return
	}
	afterNews(nil, false)
}
