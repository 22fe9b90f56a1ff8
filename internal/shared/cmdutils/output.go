package cmdutils

import (
	"fmt"
	"io"
	"text/tabwriter"
)

const logo = "🛰"

func PrintResponse(text string) {
	if text == "" {
		return
	}

	fmt.Printf("\n%s toolrelay\n%s\n\n", logo, text)
}

// PrintProgress writes one indented progress line under the prompt.
func PrintProgress(text string) {
	fmt.Printf("  ↳ %s\n", text)
}

// Table returns a tabwriter for aligned columnar output; call Flush when done.
func Table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
