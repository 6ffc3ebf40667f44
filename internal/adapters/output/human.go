package output

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/presenced/pkg/presence"
)

// PublishResult reports a message sent by a CLI command.
type PublishResult struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	w := writerOrStdout(p.Out)
	switch data := v.(type) {
	case presence.State:
		return printState(w, data)
	case PublishResult:
		pterm.Success.WithWriter(w).Printfln("published to %s: %s", data.Topic, data.Payload)
		return nil
	default:
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
}

func printState(w io.Writer, state presence.State) error {
	if _, err := fmt.Fprintf(w, "Status: %s  (%d present)\n", statusStyle(state.Status), len(state.People)); err != nil {
		return err
	}
	if len(state.People) == 0 {
		return nil
	}
	data := pterm.TableData{{"NAME", "NOTE"}}
	for _, person := range state.People {
		note := ""
		if person.Note != nil {
			note = *person.Note
		}
		data = append(data, []string{person.Name, note})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

func statusStyle(status presence.Status) string {
	switch status {
	case presence.StatusOpen:
		return pterm.Green(status.String())
	case presence.StatusThursday:
		return pterm.Yellow(status.String())
	default:
		return pterm.Red(status.String())
	}
}
