package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mikey-austin/presenced/pkg/presence"
)

// JSONPrinter prints JSON, one document per result.
type JSONPrinter struct {
	Out io.Writer
}

// Print renders JSON output. States are printed in their wire format.
func (p JSONPrinter) Print(v any) error {
	var (
		payload []byte
		err     error
	)
	switch data := v.(type) {
	case presence.State:
		payload, err = data.Marshal()
	default:
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(writerOrStdout(p.Out), string(payload))
	return err
}
