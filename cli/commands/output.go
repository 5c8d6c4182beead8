package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
	"github.com/AshkanYarmoradi/go-chronicle/cli/ui"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputLine  = "line"
)

// eventView is the JSON shape of a stored event.
type eventView struct {
	GlobalSequence uint64             `json:"global_sequence"`
	ID             string             `json:"id"`
	AggregateID    string             `json:"aggregate_id"`
	AggregateType  string             `json:"aggregate_type"`
	Type           string             `json:"type"`
	Version        int64              `json:"version"`
	SchemaVersion  int                `json:"schema_version"`
	Timestamp      time.Time          `json:"timestamp"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Metadata       *adapters.Metadata `json:"metadata,omitempty"`
	Data           json.RawMessage    `json:"data"`
}

func newEventView(e adapters.StoredEvent) eventView {
	v := eventView{
		GlobalSequence: e.GlobalSequence,
		ID:             e.ID,
		AggregateID:    e.AggregateID,
		AggregateType:  e.AggregateType,
		Type:           e.Type,
		Version:        e.Version,
		SchemaVersion:  e.SchemaVersion,
		Timestamp:      e.Timestamp,
		IdempotencyKey: e.IdempotencyKey,
		Data:           payload(e.Data),
	}
	if !e.Metadata.IsEmpty() {
		md := e.Metadata
		v.Metadata = &md
	}
	return v
}

// payload keeps JSON payloads as they are and quotes anything else, such as
// msgpack or protobuf bytes, as a base64 string.
func payload(data []byte) json.RawMessage {
	if len(data) > 0 && json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(data)
	return quoted
}

func validateOutput(format string) error {
	switch format {
	case OutputTable, OutputJSON, OutputLine:
		return nil
	default:
		return fmt.Errorf("unknown output format %q: use table, json or line", format)
	}
}

// writeEvents renders events in the requested format.
func writeEvents(w io.Writer, events []adapters.StoredEvent, format string) error {
	switch format {
	case OutputJSON:
		views := make([]eventView, 0, len(events))
		for _, e := range events {
			views = append(views, newEventView(e))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)

	case OutputLine:
		for _, e := range events {
			if err := writeEventLine(w, e, OutputLine); err != nil {
				return err
			}
		}
		return nil

	default:
		if len(events) == 0 {
			fmt.Fprintln(w, styles.FormatInfo("No events found"))
			return nil
		}

		tbl := ui.NewTable("Seq", "Aggregate", "Version", "Type", "Timestamp")
		for _, e := range events {
			tbl.AddRow(
				strconv.FormatUint(e.GlobalSequence, 10),
				e.AggregateType+"/"+e.AggregateID,
				strconv.FormatInt(e.Version, 10),
				e.Type,
				e.Timestamp.UTC().Format(time.RFC3339),
			)
		}
		fmt.Fprintln(w, tbl.Render())
		fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%d event(s)", tbl.Len())))
		return nil
	}
}

// writeEventLine renders a single event as it arrives, as compact JSON or a
// styled summary line.
func writeEventLine(w io.Writer, e adapters.StoredEvent, format string) error {
	if format == OutputJSON {
		return json.NewEncoder(w).Encode(newEventView(e))
	}
	_, err := fmt.Fprintln(w, styles.FormatEvent(e.GlobalSequence, e.AggregateID, e.Version, e.Type))
	return err
}

// parseTime accepts an RFC 3339 timestamp or a duration meaning that long
// before now. An empty string is the zero time.
func parseTime(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or a duration such as 15m", value)
	}
	return now.Add(-d), nil
}
