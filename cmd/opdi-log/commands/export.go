package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
)

// RunExport exports the matching events of the capture file in format.
func RunExport(path, format, output string, opts FilterOptions) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(path, filter, w)
	case "csv":
		return exportCSV(path, filter, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(path string, filter log.Filter, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return eachEvent(path, filter, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{"timestamp", "connection_id", "direction", "layer", "category", "device_address", "type", "channel", "payload"}

func exportCSV(path string, filter log.Filter, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return eachEvent(path, filter, func(event log.Event) error {
		channel, payload := "", ""
		switch {
		case event.Message != nil:
			channel = strconv.FormatUint(uint64(event.Message.Channel), 10)
			payload = event.Message.Payload
		case event.Line != nil:
			payload = event.Line.Text
		case event.ControlMsg != nil:
			payload = event.ControlMsg.Text
		case event.StateChange != nil:
			payload = event.StateChange.NewState
		case event.Error != nil:
			payload = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.DeviceAddress,
			eventType(event),
			channel,
			payload,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}
