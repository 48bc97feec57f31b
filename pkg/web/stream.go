package web

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/ledgerflow/conductor/pkg/monitor"
)

func monitorFilter(c fiber.Ctx) monitor.Filter {
	return monitor.Filter{
		WorkflowID:  c.Query("workflow_id"),
		ExecutionID: c.Query("execution_id"),
	}
}

// newEventStream writes monitor updates as server-sent events until the
// client disconnects or the subscription is closed.
func newEventStream(updates <-chan monitor.Update, cancel func()) func(w *bufio.Writer) {
	return func(w *bufio.Writer) {
		defer cancel()

		for update := range updates {
			payload, err := json.Marshal(update)
			if err != nil {
				continue
			}

			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, payload); err != nil {
				return
			}

			// Flush failure means the client went away.
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}
