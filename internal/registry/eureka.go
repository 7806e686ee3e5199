// Package registry registers the service with a Eureka discovery server so
// Spring Cloud gateways can route to it by application name.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stt-service/internal/observability/logging"
)

// Instance statuses understood by Eureka.
const (
	StatusStarting = "STARTING"
	StatusUp       = "UP"
	StatusDown     = "DOWN"
)

// ErrNotRegistered is returned by Heartbeat when the server has no lease
// for this instance, e.g. after a registry restart.
var ErrNotRegistered = errors.New("instance not registered")

// Config describes this instance.
type Config struct {
	ServerURL         string
	AppName           string
	Host              string
	Port              int
	HeartbeatInterval time.Duration
	HTTPClient        *http.Client
}

// Client talks to the Eureka REST API.
type Client struct {
	server     string
	app        string
	instanceID string
	host       string
	ip         string
	port       int
	interval   time.Duration
	http       *http.Client
	logger     zerolog.Logger

	status string
}

// New returns a Client. Host defaults to the machine hostname.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, fmt.Errorf("registry: server URL is required")
	}
	if cfg.AppName == "" {
		return nil, fmt.Errorf("registry: app name is required")
	}
	host := cfg.Host
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("registry: hostname: %w", err)
		}
		host = h
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	app := strings.ToUpper(cfg.AppName)

	return &Client{
		server:     strings.TrimRight(cfg.ServerURL, "/"),
		app:        app,
		instanceID: fmt.Sprintf("%s:%s:%d", host, strings.ToLower(app), cfg.Port),
		host:       host,
		ip:         resolveIP(host),
		port:       cfg.Port,
		interval:   interval,
		http:       hc,
		logger:     logging.WithComponent("registry"),
		status:     StatusStarting,
	}, nil
}

// InstanceID identifies this instance in the registry.
func (c *Client) InstanceID() string {
	return c.instanceID
}

type portInfo struct {
	Port    int    `json:"$"`
	Enabled string `json:"@enabled"`
}

type dataCenterInfo struct {
	Class string `json:"@class"`
	Name  string `json:"name"`
}

type leaseInfo struct {
	RenewalIntervalInSecs int `json:"renewalIntervalInSecs"`
	DurationInSecs        int `json:"durationInSecs"`
}

type instanceInfo struct {
	InstanceID       string         `json:"instanceId"`
	HostName         string         `json:"hostName"`
	App              string         `json:"app"`
	IPAddr           string         `json:"ipAddr"`
	VIPAddress       string         `json:"vipAddress"`
	SecureVIPAddress string         `json:"secureVipAddress"`
	Status           string         `json:"status"`
	Port             portInfo       `json:"port"`
	SecurePort       portInfo       `json:"securePort"`
	HomePageURL      string         `json:"homePageUrl"`
	StatusPageURL    string         `json:"statusPageUrl"`
	HealthCheckURL   string         `json:"healthCheckUrl"`
	DataCenterInfo   dataCenterInfo `json:"dataCenterInfo"`
	LeaseInfo        leaseInfo      `json:"leaseInfo"`
}

type registration struct {
	Instance instanceInfo `json:"instance"`
}

func (c *Client) instance(status string) registration {
	base := fmt.Sprintf("http://%s:%d", c.host, c.port)
	vip := strings.ToLower(c.app)
	return registration{Instance: instanceInfo{
		InstanceID:       c.instanceID,
		HostName:         c.host,
		App:              c.app,
		IPAddr:           c.ip,
		VIPAddress:       vip,
		SecureVIPAddress: vip,
		Status:           status,
		Port:             portInfo{Port: c.port, Enabled: "true"},
		SecurePort:       portInfo{Port: 443, Enabled: "false"},
		HomePageURL:      base + "/",
		StatusPageURL:    base + "/health",
		HealthCheckURL:   base + "/health",
		DataCenterInfo: dataCenterInfo{
			Class: "com.netflix.appinfo.InstanceInfo$DefaultDataCenterInfo",
			Name:  "MyOwn",
		},
		LeaseInfo: leaseInfo{
			RenewalIntervalInSecs: int(c.interval.Seconds()),
			DurationInSecs:        int(3 * c.interval.Seconds()),
		},
	}}
}

// Register announces the instance with status.
func (c *Client) Register(ctx context.Context, status string) error {
	body, err := json.Marshal(c.instance(status))
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.appURL(), body)
	if err != nil {
		return fmt.Errorf("register %s: %w", c.instanceID, err)
	}
	c.status = status
	return nil
}

// Heartbeat renews the lease.
func (c *Client) Heartbeat(ctx context.Context) error {
	code, err := c.do(ctx, http.MethodPut, c.instanceURL(), nil)
	if code == http.StatusNotFound {
		return ErrNotRegistered
	}
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", c.instanceID, err)
	}
	return nil
}

// SetStatus overrides the instance status, e.g. UP once the model loads.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	u := c.instanceURL() + "/status?value=" + url.QueryEscape(status)
	if _, err := c.do(ctx, http.MethodPut, u, nil); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	c.status = status
	return nil
}

// Deregister removes the instance.
func (c *Client) Deregister(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodDelete, c.instanceURL(), nil); err != nil {
		return fmt.Errorf("deregister %s: %w", c.instanceID, err)
	}
	return nil
}

// Run registers, heartbeats every interval until ctx is done, then
// deregisters. Registry outages are logged and retried; they never stop the
// service. ready, when non-nil, delivers the UP transition.
func (c *Client) Run(ctx context.Context, ready <-chan struct{}) error {
	registered := c.tryRegister(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if registered {
				dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				err := c.Deregister(dctx)
				cancel()
				if err != nil {
					c.logger.Warn().Err(err).Msg("Eureka deregistration failed")
				} else {
					c.logger.Info().Str("instanceId", c.instanceID).Msg("Deregistered from Eureka")
				}
			}
			return nil

		case <-ready:
			ready = nil
			c.status = StatusUp
			if registered {
				if err := c.SetStatus(ctx, StatusUp); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to mark instance UP")
				}
			}

		case <-ticker.C:
			if !registered {
				registered = c.tryRegister(ctx)
				continue
			}
			err := c.Heartbeat(ctx)
			if errors.Is(err, ErrNotRegistered) {
				c.logger.Info().Msg("Eureka lease lost, registering again")
				registered = c.tryRegister(ctx)
				continue
			}
			if err != nil {
				c.logger.Warn().Err(err).Msg("Eureka heartbeat failed")
			}
		}
	}
}

func (c *Client) tryRegister(ctx context.Context) bool {
	if err := c.Register(ctx, c.status); err != nil {
		c.logger.Warn().Err(err).Str("server", c.server).Msg("Eureka registration failed, will retry")
		return false
	}
	c.logger.Info().
		Str("server", c.server).
		Str("app", c.app).
		Str("instanceId", c.instanceID).
		Str("status", c.status).
		Msg("Registered with Eureka")
	return true
}

func (c *Client) appURL() string {
	return c.server + "/apps/" + url.PathEscape(c.app)
}

func (c *Client) instanceURL() string {
	return c.appURL() + "/" + url.PathEscape(c.instanceID)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, fmt.Errorf("eureka returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// resolveIP returns an IPv4 address for host, falling back to the first
// non-loopback interface address, then to host itself.
func resolveIP(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return host
	}
	if addrs, err := net.LookupIP(host); err == nil {
		for _, a := range addrs {
			if v4 := a.To4(); v4 != nil && !v4.IsLoopback() {
				return v4.String()
			}
		}
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				if v4 := ipn.IP.To4(); v4 != nil && !v4.IsLoopback() {
					return v4.String()
				}
			}
		}
	}
	return host
}

// PortFromString parses a port, returning 0 when invalid.
func PortFromString(s string) int {
	p, err := strconv.Atoi(strings.TrimPrefix(s, ":"))
	if err != nil {
		return 0
	}
	return p
}
