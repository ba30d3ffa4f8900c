package panel

import (
	"strings"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

// consoleObserver mirrors broadcast events into the panel log. Server
// output goes to debug so a chatty server does not drown the panel's own
// messages.
type consoleObserver struct {
	logger logging.Logger
}

func newConsoleObserver(logger logging.Logger) *consoleObserver {
	return &consoleObserver{logger: logger}
}

func (o *consoleObserver) Notify(event broadcast.Event) {
	switch event.Type {
	case broadcast.EventProcessStarted:
		o.logger.Infof("Server started, instance: %s", event.Instance)
	case broadcast.EventProcessStopped:
		o.logger.Infof("Server stopped, instance: %s", event.Instance)
	case broadcast.EventInstanceListChanged:
		o.logger.Infof("Instances: [%s]", strings.Join(event.Instances, ", "))
	case broadcast.EventProvisioningProgress:
		o.logger.Infof("Provisioning %s: %s", event.Instance, event.Text)
	case broadcast.EventOutputChunk:
		text := strings.TrimRight(event.Text, "\r\n")
		if event.Stream == broadcast.StreamSystem {
			o.logger.Infof("[system] %s", text)
		} else {
			o.logger.Debugf("[%s] %s", event.Stream, text)
		}
	}
}
