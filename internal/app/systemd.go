package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "hwbot/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside a Type=notify unit
// (NOTIFY_SOCKET unset) every call is a silent no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(unsetEnv bool, state string) (bool, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{log: log, notify: daemon.SdNotify}
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Watchdog() { n.send(daemon.SdNotifyWatchdog) }
