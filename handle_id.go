package dealer

import "fmt"

// HandleID identifies a handle by the full (service, app, handle)
// triple (spec §3). All three fields must be non-empty.
type HandleID struct {
	Service string
	App     string
	Handle  string
}

func (h HandleID) String() string {
	return fmt.Sprintf("%s/%s/%s", h.Service, h.App, h.Handle)
}

// Valid reports whether all three components are non-empty.
func (h HandleID) Valid() bool {
	return h.Service != "" && h.App != "" && h.Handle != ""
}
