package events

import (
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// StepPrinterFunc returns a watermill handler that prints streaming
// deltas to w as they arrive, prefixed once with name when given. It is
// meant to be registered on an EventRouter for interactive sessions.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	if w == nil {
		w = os.Stdout
	}

	printedName := false

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJSON(msg.Payload)
		if err != nil {
			return err
		}

		switch e_ := e.(type) {
		case *EventPartialCompletion:
			if !printedName && name != "" {
				printedName = true
				if _, err := w.Write([]byte(name + ": ")); err != nil {
					return errors.Wrap(err, "failed to write name")
				}
			}
			if _, err := w.Write([]byte(e_.Delta)); err != nil {
				return errors.Wrap(err, "failed to write delta")
			}

		case *EventFinal, *EventInterrupt:
			printedName = false
			if _, err := w.Write([]byte("\n")); err != nil {
				return errors.Wrap(err, "failed to write newline")
			}

		case *EventError:
			printedName = false
			if _, err := w.Write([]byte("\nerror: " + e_.ErrorString + "\n")); err != nil {
				return errors.Wrap(err, "failed to write error")
			}
		}

		return nil
	}
}
