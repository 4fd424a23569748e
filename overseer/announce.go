package overseer

import (
	jsoniter "github.com/json-iterator/go"
)

// jsonAPI matches the standard library's []byte-as-base64 and
// struct-tag semantics exactly, which the route field below depends
// on.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// AppStatus is the lifecycle state of one application on an
// announcing host (spec §4.6).
type AppStatus string

const (
	StatusUnknown  AppStatus = "unknown"
	StatusRunning  AppStatus = "running"
	StatusStopping AppStatus = "stopping"
	StatusStopped  AppStatus = "stopped"
	StatusBroken   AppStatus = "broken"
)

// Task is one handle exposed by a running app, with the wire route
// token the balancer will need to address it.
type Task struct {
	Endpoint string `json:"endpoint"`
	Route    []byte `json:"route"`
}

// App is one application's announced state.
type App struct {
	Status AppStatus       `json:"status"`
	Tasks  map[string]Task `json:"tasks"`
}

// NodeDescriptor is the parsed form of one announce payload (spec
// §4.6): `{identity, uptime, apps: {name -> {status, tasks}}}`.
type NodeDescriptor struct {
	Identity string         `json:"identity"`
	Uptime   float64        `json:"uptime"`
	Apps     map[string]App `json:"apps"`
}

// decodeAnnounce parses one announce payload frame. Hot path: this
// runs once per announce per host per service, at sustained
// sub-second cadence, hence json-iterator rather than encoding/json.
func decodeAnnounce(payload []byte) (NodeDescriptor, error) {
	var node NodeDescriptor
	if err := jsonAPI.Unmarshal(payload, &node); err != nil {
		return NodeDescriptor{}, err
	}
	return node, nil
}
