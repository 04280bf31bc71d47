package driver

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"k8s.io/klog/v2"
)

// ConnectionInfo describes how a consumer attaches to a volume.
type ConnectionInfo struct {
	Type string         `json:"driver_volume_type"`
	Data ConnectionData `json:"data"`
}

// ConnectionData carries the rbd attachment parameters.
type ConnectionData struct {
	Name         string   `json:"name"`
	Hosts        []string `json:"hosts"`
	Ports        []string `json:"ports"`
	AuthEnabled  bool     `json:"auth_enabled"`
	AuthUsername *string  `json:"auth_username"`
	SecretType   *string  `json:"secret_type"`
	SecretUUID   *string  `json:"secret_uuid"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// monitorAddresses asks the cluster for its monitor map and returns the
// monitor hosts and ports. The mon dump output may be preceded by a
// status banner line, which is skipped before parsing.
func (d *Driver) monitorAddresses() (hosts []string, ports []string, err error) {
	args := append([]string{"mon", "dump", "--format=json"}, d.cephArgs()...)
	out, err := d.runner.Run("ceph", args...)
	if err != nil {
		return nil, nil, fmt.Errorf("error dumping monitor map: %w", err)
	}

	var body []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "dumped monmap epoch") {
			continue
		}
		body = append(body, line)
	}

	doc := gjson.Parse(strings.Join(body, "\n"))
	for _, mon := range doc.Get("mons").Array() {
		addr := mon.Get("addr").String()
		// addr looks like host:port/nonce, or [v6host]:port/nonce
		if i := strings.LastIndex(addr, "/"); i >= 0 {
			addr = addr[:i]
		}
		i := strings.LastIndex(addr, ":")
		if i < 0 {
			return nil, nil, fmt.Errorf("malformed monitor address %q", addr)
		}
		hosts = append(hosts, strings.Trim(addr[:i], "[]"))
		ports = append(ports, addr[i+1:])
	}
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("monitor map contains no monitors")
	}
	return hosts, ports, nil
}

// InitializeConnection returns the attachment parameters for a volume.
func (d *Driver) InitializeConnection(volumeName string) (*ConnectionInfo, error) {
	hosts, ports, err := d.monitorAddresses()
	if err != nil {
		return nil, err
	}

	info := &ConnectionInfo{
		Type: "rbd",
		Data: ConnectionData{
			Name:         fmt.Sprintf("%s/%s", d.opts.Pool, volumeName),
			Hosts:        hosts,
			Ports:        ports,
			AuthEnabled:  d.opts.User != "",
			AuthUsername: optString(d.opts.User),
			SecretType:   optString("ceph"),
			SecretUUID:   optString(d.opts.SecretID),
		},
	}
	klog.V(4).Infof("Connection info for %s: hosts=%v ports=%v", volumeName, hosts, ports)
	return info, nil
}
