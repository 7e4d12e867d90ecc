package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// GeoInfo is the subset of the ip-api.com response we keep.
type GeoInfo struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// GeoClient looks up the rough location of client addresses for the
// download log. Lookups are best effort and never block a download.
type GeoClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger
}

func NewGeoClient(endpoint string, timeout time.Duration, log *zap.Logger) *GeoClient {
	return &GeoClient{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Lookup resolves the location of an address. Private and loopback
// addresses are skipped without a request.
func (geo *GeoClient) Lookup(addr string) (GeoInfo, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() {
		return GeoInfo{}, fmt.Errorf("Lookup: address %q is not a public ip", addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), geo.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, geo.endpoint+"/"+ip.String(), nil)
	if err != nil {
		return GeoInfo{}, fmt.Errorf("Lookup new request: %w", err)
	}

	resp, err := geo.client.Do(req)
	if err != nil {
		return GeoInfo{}, fmt.Errorf("Lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoInfo{}, fmt.Errorf("Lookup unexpected status: %s", resp.Status)
	}

	var info GeoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return GeoInfo{}, fmt.Errorf("Lookup decode: %w", err)
	}

	return info, nil
}
