package dispatch

import "notifyhub/internal/domain/entity"

// Dynamic batch sizes used when the channel policy does not set one.
const (
	smallBatchSize  = 500
	mediumBatchSize = 1000
	largeBatchSize  = 2000
)

// BatchSize picks the batch size for a (channel, tenant) group of groupSize devices.
// An explicit policy BatchSize wins; otherwise bulk groups get larger batches.
// MaxRecipientsPerRequest, when set, caps the result.
func BatchSize(p entity.ChannelPolicy, groupSize int) int {
	size := p.BatchSize
	if size <= 0 {
		switch {
		case groupSize > 5000:
			size = largeBatchSize
		case groupSize > 1000:
			size = mediumBatchSize
		default:
			size = smallBatchSize
		}
	}
	if p.MaxRecipientsPerRequest > 0 && size > p.MaxRecipientsPerRequest {
		size = p.MaxRecipientsPerRequest
	}
	return size
}

// tenantGroup is one channel's devices for a single tenant.
type tenantGroup struct {
	tenantID string
	devices  []*entity.Device
}

// partition splits devices by enabled channel, then by tenant, preserving input order.
// Devices with no enabled channel are dropped.
func partition(devices []*entity.Device) map[entity.ChannelType][]tenantGroup {
	out := make(map[entity.ChannelType][]tenantGroup, 4)
	index := make(map[entity.ChannelType]map[string]int, 4)
	for _, d := range devices {
		if d == nil {
			continue
		}
		for _, ch := range d.EnabledChannels() {
			idx, ok := index[ch]
			if !ok {
				idx = make(map[string]int)
				index[ch] = idx
			}
			i, ok := idx[d.TenantID]
			if !ok {
				i = len(out[ch])
				idx[d.TenantID] = i
				out[ch] = append(out[ch], tenantGroup{tenantID: d.TenantID})
			}
			out[ch][i].devices = append(out[ch][i].devices, d)
		}
	}
	return out
}

// split cuts devices into consecutive batches of at most size.
func split(devices []*entity.Device, size int) [][]*entity.Device {
	if len(devices) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(devices)
	}
	batches := make([][]*entity.Device, 0, (len(devices)+size-1)/size)
	for start := 0; start < len(devices); start += size {
		end := min(start+size, len(devices))
		batches = append(batches, devices[start:end])
	}
	return batches
}
