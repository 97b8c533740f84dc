package lineproto

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// tag keys/values escape comma, space, and equals; measurements only comma and space.
var (
	tagEscaper         = strings.NewReplacer(`,`, `\,`, ` `, `\ `, `=`, `\=`)
	measurementEscaper = strings.NewReplacer(`,`, `\,`, ` `, `\ `)
	stringFieldEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// Formatter converts normalized records into line protocol.
// Params: engine-level tag sources fixed at construction.
// Returns: pure formatter, safe for concurrent use.
type Formatter struct {
	source     string
	globalTags map[string]string
}

// NewFormatter creates a line protocol formatter.
// Params: source engine-injected source identifier tag; globalTags lowest-precedence config tags.
// Returns: formatter instance.
func NewFormatter(source string, globalTags map[string]string) *Formatter {
	tags := make(map[string]string, len(globalTags))
	for key, value := range globalTags {
		tags[key] = value
	}
	return &Formatter{
		source:     strings.TrimSpace(source),
		globalTags: tags,
	}
}

// Format serializes one record into one line of InfluxDB line protocol.
// Params: record normalized observation.
// Returns: formatted line or error wrapping ErrInvalidRecord.
func (f *Formatter) Format(record Record) (string, error) {
	measurement := normalizeMeasurement(record.Measurement)
	if measurement == "" {
		return "", fmt.Errorf("%w: empty measurement", ErrInvalidRecord)
	}
	if record.Timestamp < 0 {
		return "", fmt.Errorf("%w: negative timestamp %d", ErrInvalidRecord, record.Timestamp)
	}

	fieldSegment, err := renderFields(record.Fields)
	if err != nil {
		return "", err
	}

	var line strings.Builder
	line.WriteString(measurementEscaper.Replace(measurement))
	writeTagSegment(&line, f.mergeTags(record))
	line.WriteByte(' ')
	line.WriteString(fieldSegment)
	line.WriteByte(' ')
	line.WriteString(strconv.FormatInt(record.Timestamp, 10))

	return line.String(), nil
}

// mergeTags merges tag sources in fixed precedence order, lowest first.
// Params: record carrying client/record tags and client identity.
// Returns: merged tag map; later sources overwrite same-named keys.
func (f *Formatter) mergeTags(record Record) map[string]string {
	merged := make(map[string]string, len(f.globalTags)+len(record.ClientTags)+len(record.Tags)+2)
	for key, value := range f.globalTags {
		merged[key] = value
	}
	for key, value := range record.ClientTags {
		merged[key] = value
	}
	for key, value := range record.Tags {
		merged[key] = value
	}
	if f.source != "" {
		merged["source"] = f.source
	}
	if client := strings.TrimSpace(record.Client); client != "" {
		merged["client"] = client
	}
	return merged
}

// writeTagSegment emits sorted non-empty tags as ",key=value" pairs.
// Params: line output builder; tags merged tag map.
// Returns: none.
func writeTagSegment(line *strings.Builder, tags map[string]string) {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		if strings.TrimSpace(key) == "" || tags[key] == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		line.WriteByte(',')
		line.WriteString(tagEscaper.Replace(key))
		line.WriteByte('=')
		line.WriteString(tagEscaper.Replace(tags[key]))
	}
}

// renderFields serializes fields with type-appropriate suffixes in key order.
// Params: fields record field map.
// Returns: comma-joined field segment or error when no field renders.
func renderFields(fields map[string]any) (string, error) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if strings.TrimSpace(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		rendered, err := renderFieldValue(fields[key])
		if err != nil {
			return "", fmt.Errorf("%w: field %q: %v", ErrInvalidRecord, key, err)
		}
		if rendered == "" {
			continue
		}
		parts = append(parts, tagEscaper.Replace(key)+"="+rendered)
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no non-empty fields", ErrInvalidRecord)
	}
	return strings.Join(parts, ","), nil
}

// renderFieldValue renders one field value: quoted string, "i"-suffixed integer, or bare float.
// Params: value field value of supported type.
// Returns: rendered value, empty string for empty string values, or type error.
func renderFieldValue(value any) (string, error) {
	switch typed := value.(type) {
	case string:
		if typed == "" {
			return "", nil
		}
		return `"` + stringFieldEscaper.Replace(typed) + `"`, nil
	case int64:
		return strconv.FormatInt(typed, 10) + "i", nil
	case int:
		return strconv.Itoa(typed) + "i", nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported type %T", value)
	}
}

// normalizeMeasurement trims the series name and replaces separator characters.
// Params: measurement raw series name.
// Returns: normalized name, empty when input has no content.
func normalizeMeasurement(measurement string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(measurement), "/", "_")
	return strings.Join(strings.Fields(cleaned), "_")
}
