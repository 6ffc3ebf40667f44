package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/presenced/pkg/presence"
)

func TestHumanPrinterState(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	state := presence.State{Status: presence.StatusOpen, People: []presence.Person{
		{Name: "Alice", Note: presence.StringPtr("soldering")},
		{Name: "Bob"},
	}}
	if err := (HumanPrinter{Out: &buf}).Print(state); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Status: open  (2 present)") {
		t.Fatalf("missing status line in %q", out)
	}
	if !strings.Contains(out, "Alice") || !strings.Contains(out, "soldering") || !strings.Contains(out, "Bob") {
		t.Fatalf("missing people in %q", out)
	}
}

func TestHumanPrinterEmptyState(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	if err := (HumanPrinter{Out: &buf}).Print(*presence.NewState()); err != nil {
		t.Fatalf("print: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "Status: closed  (0 present)" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestJSONPrinterUsesWireFormat(t *testing.T) {
	var buf bytes.Buffer
	state := presence.State{Status: presence.StatusThursday, People: []presence.Person{{Name: "Alice"}}}
	if err := (JSONPrinter{Out: &buf}).Print(state); err != nil {
		t.Fatalf("print: %v", err)
	}
	if strings.TrimSpace(buf.String()) != `{"status":"thursday","people":[["Alice",null]]}` {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	if err := (JSONPrinter{Out: &buf}).Print(PublishResult{Topic: "/presence/eta", Payload: "x"}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if strings.TrimSpace(buf.String()) != `{"topic":"/presence/eta","payload":"x"}` {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
