// Package fetcher implements the pluggable host-list source of spec
// §4.5: something the overseer can poll for a service's known hosts,
// backed by either a local file or an HTTP endpoint.
package fetcher

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	dealer "github.com/toshic/cocaine-dealer"
	"github.com/toshic/cocaine-dealer/config"
)

// New builds the Fetcher named by a service's discovery configuration
// (spec §6 `discovery: {file|http, source}`).
func New(d config.Discovery, controlPort int) (Fetcher, error) {
	switch d.Type {
	case config.DiscoveryFile:
		return NewFileFetcher(d.Source, controlPort), nil
	case config.DiscoveryHTTP:
		return NewHTTPFetcher(d.Source, controlPort), nil
	default:
		return nil, dealer.NewError(dealer.InternalError, "fetcher: unknown discovery type "+string(d.Type))
	}
}

// PollInterval is how often the overseer is expected to call a
// Fetcher (spec §4.6 "fetch tick").
const PollInterval = 15 * time.Second

// HostEndpoint is one host:port entry returned by a Fetcher, before
// any per-app routing information has been joined in by the overseer.
type HostEndpoint struct {
	TransportURI string
}

// Fetcher returns the currently known hosts for a service.
type Fetcher interface {
	Fetch() ([]HostEndpoint, error)
}

// parseHostLine normalizes a "tcp://host:port" or bare "host" entry,
// defaulting the transport to tcp and the port to controlPort.
func parseHostLine(line string, controlPort int) (HostEndpoint, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return HostEndpoint{}, fmt.Errorf("fetcher: empty host line")
	}

	transport := "tcp"
	rest := line
	if idx := strings.Index(line, "://"); idx >= 0 {
		transport = line[:idx]
		rest = line[idx+3:]
	}

	host := rest
	if !strings.Contains(rest, ":") {
		host = fmt.Sprintf("%s:%d", rest, controlPort)
	}

	return HostEndpoint{TransportURI: fmt.Sprintf("%s://%s", transport, host)}, nil
}

// FileFetcher reads a local file of "tcp://host:port" lines, one per
// line, with "#"-prefixed comments ignored (spec §4.5).
type FileFetcher struct {
	Path        string
	ControlPort int

	lastGood []HostEndpoint
}

// NewFileFetcher builds a FileFetcher for path.
func NewFileFetcher(path string, controlPort int) *FileFetcher {
	return &FileFetcher{Path: path, ControlPort: controlPort}
}

// Fetch parses Path. On failure it logs nothing itself (the caller is
// expected to log) and returns the last successfully parsed list,
// matching spec §4.5's last-known-good rule; on the very first
// failure with nothing cached yet, it returns the error.
func (f *FileFetcher) Fetch() ([]HostEndpoint, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if f.lastGood != nil {
			return f.lastGood, nil
		}
		return nil, dealer.NewError(dealer.InternalError, "fetcher: opening "+f.Path+": "+err.Error())
	}
	defer file.Close()

	hosts, err := parseHostList(file, f.ControlPort)
	if err != nil {
		if f.lastGood != nil {
			return f.lastGood, nil
		}
		return nil, err
	}
	f.lastGood = hosts
	return hosts, nil
}

// HTTPFetcher fetches a newline-delimited host list from a URL.
type HTTPFetcher struct {
	URL         string
	ControlPort int
	Client      *http.Client

	lastGood []HostEndpoint
}

// NewHTTPFetcher builds an HTTPFetcher against url, using a client
// with a short timeout so a stalled discovery endpoint cannot block
// the overseer's fetch tick indefinitely.
func NewHTTPFetcher(url string, controlPort int) *HTTPFetcher {
	return &HTTPFetcher{
		URL:         url,
		ControlPort: controlPort,
		Client:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Fetch performs a GET against URL and parses the body the same way
// FileFetcher parses a file. On any failure, the previously known
// list is returned (last-known-good, spec §4.5).
func (f *HTTPFetcher) Fetch() ([]HostEndpoint, error) {
	resp, err := f.Client.Get(f.URL)
	if err != nil {
		if f.lastGood != nil {
			return f.lastGood, nil
		}
		return nil, dealer.NewError(dealer.InternalError, "fetcher: GET "+f.URL+": "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if f.lastGood != nil {
			return f.lastGood, nil
		}
		return nil, dealer.NewError(dealer.InternalError, fmt.Sprintf("fetcher: GET %s: status %d", f.URL, resp.StatusCode))
	}

	hosts, err := parseHostList(resp.Body, f.ControlPort)
	if err != nil {
		if f.lastGood != nil {
			return f.lastGood, nil
		}
		return nil, err
	}
	f.lastGood = hosts
	return hosts, nil
}

func parseHostList(r io.Reader, controlPort int) ([]HostEndpoint, error) {
	var hosts []HostEndpoint
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep, err := parseHostLine(line, controlPort)
		if err != nil {
			continue
		}
		hosts = append(hosts, ep)
	}
	if err := scanner.Err(); err != nil {
		return nil, dealer.NewError(dealer.InternalError, "fetcher: reading host list: "+err.Error())
	}
	return hosts, nil
}
