package worker

import (
	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/notify"
)

// StartNotificationWorker registers notification handlers on the event bus.
func StartNotificationWorker(dispatcher *notify.Dispatcher, bus events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.RegisterHandlers(bus)
}
