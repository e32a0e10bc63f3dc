package probe

import (
	"bytes"
	"fmt"
	"io"
)

const (
	reportHeader = "--- Verifying External Endpoints ---"
	reportFooter = "--- Verification Complete ---"
)

// Styler decorates a report line by its status. The identity is used when
// nil.
type Styler func(s Status, line string) string

// WriteReport writes one line per result between the report markers.
func WriteReport(w io.Writer, results []Result, style Styler) error {
	if style == nil {
		style = func(_ Status, line string) string { return line }
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, reportHeader)
	for _, r := range results {
		fmt.Fprintln(&buf, style(r.Status, r.line()))
		for _, sel := range r.MissingSelectors {
			fmt.Fprintln(&buf, style(StatusNotConfigured,
				fmt.Sprintf("[  WARN  ] %s does not serve %q yet; it may be rendered client side.", r.Endpoint.Name, sel)))
		}
	}
	fmt.Fprintln(&buf, reportFooter)

	_, err := w.Write(buf.Bytes())
	return err
}

func (r Result) line() string {
	name := r.Endpoint.Name
	switch r.Status {
	case StatusAvailable:
		return fmt.Sprintf("[ SUCCESS ] %s is available.", name)
	case StatusUnavailable:
		return fmt.Sprintf("[  ERROR  ] %s is not available. Status: %d", name, r.Code)
	case StatusUnreachable:
		return fmt.Sprintf("[  ERROR  ] Failed to reach %s: %v", name, r.Err)
	default:
		return fmt.Sprintf("[  WARN  ] %s URL is not configured.", name)
	}
}
