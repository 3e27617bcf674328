package taskstore

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Iron-Ham/friendflow/internal/config"
)

// Record is one task row as seen by the engine.
type Record struct {
	ID          string
	ContactKey  string
	DisplayName string
	Nickname    string
	Status      BindingStatus
	// RawStatus is the cell value as stored, kept for unrecognized statuses.
	RawStatus string
	Fields    map[string]any
}

// rawRecord is the wire shape of a bitable record.
type rawRecord struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// schema extracts engine fields from raw records.
type schema struct {
	fields config.FieldsConfig
	labels Labels
}

func (s schema) decode(raw rawRecord) Record {
	rawStatus := cellText(raw.Fields[s.fields.Status])
	rec := Record{
		ID:          raw.RecordID,
		ContactKey:  cellText(raw.Fields[s.fields.ContactKey]),
		DisplayName: cellText(raw.Fields[s.fields.DisplayName]),
		Status:      s.labels.Parse(rawStatus),
		RawStatus:   rawStatus,
		Fields:      raw.Fields,
	}
	if s.fields.Nickname != "" {
		rec.Nickname = cellText(raw.Fields[s.fields.Nickname])
	}
	return rec
}

// cellText flattens the value shapes a bitable cell can take: plain
// strings, numbers, rich-text segment lists, phone/link/person objects and
// single-select option lists.
func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case map[string]any:
		for _, key := range []string{"full_number", "text", "name", "value", "link"} {
			if s := cellText(val[key]); s != "" {
				return s
			}
		}
		return ""
	case []any:
		var parts []string
		for _, item := range val {
			if s := cellText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}
