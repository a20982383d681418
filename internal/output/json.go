package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// PrintJSON writes v as indented JSON on stdout for automation.
func PrintJSON(v interface{}) error {
	return WriteJSON(os.Stdout, v)
}

func WriteJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))
	return err
}
