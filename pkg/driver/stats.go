package driver

import (
	"k8s.io/klog/v2"
)

// VolumeStats describes the backend's capacity and identity.
type VolumeStats struct {
	VolumeBackendName  string  `json:"volume_backend_name"`
	VendorName         string  `json:"vendor_name"`
	DriverVersion      string  `json:"driver_version"`
	StorageProtocol    string  `json:"storage_protocol"`
	TotalCapacityGiB   float64 `json:"total_capacity_gb"`
	FreeCapacityGiB    float64 `json:"free_capacity_gb"`
	CapacityKnown      bool    `json:"-"`
	ReservedPercentage int     `json:"reserved_percentage"`
}

// GetVolumeStats returns backend stats, refreshing them from the cluster
// when asked. A refresh that fails leaves the capacities unknown instead
// of returning an error, so a flapping cluster does not take down status
// reporting.
func (d *Driver) GetVolumeStats(refresh bool) VolumeStats {
	if refresh {
		d.refreshVolumeStats()
	}
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Driver) refreshVolumeStats() {
	stats := VolumeStats{
		VolumeBackendName: d.opts.BackendName,
		VendorName:        "Open Source",
		DriverVersion:     Version,
		StorageProtocol:   "ceph",
	}

	conn, err := d.connector.Connect("")
	if err != nil {
		klog.Errorf("Error refreshing volume stats: %v", err)
	} else {
		cs, err := conn.Client().Stats()
		conn.Close()
		if err != nil {
			klog.Errorf("Error reading cluster stats: %v", err)
		} else {
			stats.TotalCapacityGiB = float64(cs.TotalBytes) / GiB
			stats.FreeCapacityGiB = float64(cs.AvailBytes) / GiB
			stats.CapacityKnown = true
		}
	}

	d.statsMu.Lock()
	d.stats = stats
	d.statsMu.Unlock()
}
