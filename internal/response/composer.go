package response

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// ErrUnknownKind is returned when Render is asked for a kind with no template.
var ErrUnknownKind = errors.New("response: unknown kind")

// Kind selects the response template.
type Kind string

// Response kinds.
const (
	KindHelp        Kind = "help"
	KindState       Kind = "state"
	KindRoomState   Kind = "room_state"
	KindList        Kind = "list"
	KindRefresh     Kind = "refresh"
	KindNotFound    Kind = "not_found"
	KindAmbiguous   Kind = "ambiguous"
	KindNoDevices   Kind = "no_devices"
	KindUnsupported Kind = "unsupported"
	KindError       Kind = "error"
)

// Kinds lists every kind a Composer can render.
var Kinds = []Kind{
	KindHelp, KindState, KindRoomState, KindList, KindRefresh,
	KindNotFound, KindAmbiguous, KindNoDevices, KindUnsupported, KindError,
}

// Entry is a device as it appears in a response. It carries no topic or ID.
type Entry struct {
	Alias string
	Room  string

	// Elsewhere adds "(found in <room>)" to the description.
	Elsewhere bool
}

// Group is one room's devices in a list response.
type Group struct {
	Room    string
	Aliases []string
}

// Context is the data a template renders. Which fields matter depends on the kind.
type Context struct {
	On          bool     // state, room_state, no_devices
	Devices     []Entry  // state, room_state: devices switched
	Rooms       []string // room_state, no_devices, ambiguous
	Unreachable []string // state, room_state: aliases that failed
	Missing     []string // state, not_found: names that matched nothing
	Groups      []Group  // list
	Name        string   // not_found, ambiguous, no_devices (device type)
	Before      int      // refresh
	After       int      // refresh
	Stale       bool     // refresh
}

// Composer renders responses from the embedded templates.
//
// Thread Safety: Render is safe for concurrent use.
type Composer struct {
	templates *template.Template
}

// New parses the embedded templates and checks that every kind has one.
func New() (*Composer, error) {
	tmpl, err := template.New("response").Funcs(funcs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing response templates: %w", err)
	}
	for _, k := range Kinds {
		if tmpl.Lookup(templateName(k)) == nil {
			return nil, fmt.Errorf("%w: no template for %q", ErrUnknownKind, k)
		}
	}
	return &Composer{templates: tmpl}, nil
}

// Render produces the response text for kind.
// Whitespace is collapsed so templates can be laid out freely.
func (c *Composer) Render(kind Kind, data Context) (string, error) {
	tmpl := c.templates.Lookup(templateName(kind))
	if tmpl == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s response: %w", kind, err)
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}

func templateName(k Kind) string {
	return string(k) + ".tmpl"
}

var funcs = template.FuncMap{
	"join":        join,
	"describe":    describe,
	"describeAll": describeAll,
	"onoff":       onOff,
	"plural":      plural,
}

// join lists items the way they are spoken: "A", "A and B", "A, B and C".
func join(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

func describe(e Entry) string {
	if e.Elsewhere {
		return e.Alias + " (found in " + e.Room + ")"
	}
	return e.Alias
}

func describeAll(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = describe(e)
	}
	return out
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
