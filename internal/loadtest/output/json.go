package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/engine"
)

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
