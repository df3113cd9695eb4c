// SPDX-License-Identifier: MPL-2.0

package selfupdate

const (
	StateIdle State = iota
	StateChecking
	StateNoUpdate
	StateUpdateFound
	StateDownloading
	StateVerifying
	StateVerifyFailed
	StateVerified
	StateInstalling
	StateInstallFailed
	StateInstallRequested
)

// State is the position of the Updater in the update pipeline.
type State int

// String returns a lowercase name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateNoUpdate:
		return "no-update"
	case StateUpdateFound:
		return "update-found"
	case StateDownloading:
		return "downloading"
	case StateVerifying:
		return "verifying"
	case StateVerifyFailed:
		return "verify-failed"
	case StateVerified:
		return "verified"
	case StateInstalling:
		return "installing"
	case StateInstallFailed:
		return "install-failed"
	case StateInstallRequested:
		return "install-requested"
	}
	return "unknown"
}

// Settled reports whether no operation is in flight in this state.
func (s State) Settled() bool {
	switch s {
	case StateChecking, StateDownloading, StateVerifying, StateInstalling:
		return false
	default:
		return true
	}
}

// CanTransition reports whether the pipeline may move from s to next.
// Installing is only reachable from Verified.
func (s State) CanTransition(next State) bool {
	switch next {
	case StateChecking, StateDownloading:
		return s.Settled()
	case StateIdle, StateNoUpdate:
		return s == StateChecking
	case StateUpdateFound:
		return s == StateChecking || s == StateDownloading
	case StateVerifying:
		return s == StateDownloading || s == StateVerified
	case StateVerified, StateVerifyFailed:
		return s == StateVerifying
	case StateInstalling:
		return s == StateVerified
	case StateInstallRequested, StateInstallFailed:
		return s == StateInstalling
	}
	return false
}
