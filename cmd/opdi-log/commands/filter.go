package commands

import (
	"fmt"
	"io"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
)

// RunFilter writes the matching events of the capture file to output and
// reports how many were written to w.
func RunFilter(path, output string, opts FilterOptions, w io.Writer) error {
	if output == "" {
		return fmt.Errorf("output file required")
	}
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	if err := eachEvent(path, filter, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	}); err != nil {
		return err
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}
