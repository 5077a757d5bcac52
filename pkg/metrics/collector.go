package metrics

import (
	"context"
	"time"

	"github.com/cuemby/paddock/pkg/storage"
)

// Collector periodically refreshes the stored-aggregate gauges
type Collector struct {
	requests *storage.RequestRepository
	machines *storage.MachineRepository
	stopCh   chan struct{}
}

// NewCollector creates a collector over the repositories
func NewCollector(requests *storage.RequestRepository, machines *storage.MachineRepository) *Collector {
	return &Collector{
		requests: requests,
		machines: machines,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRequestMetrics()
	c.collectMachineMetrics()
}

func (c *Collector) collectRequestMetrics() {
	requests, err := c.requests.All(context.Background())
	if err != nil {
		return
	}
	counts := map[[2]string]int{}
	for _, req := range requests {
		counts[[2]string{string(req.Type), string(req.Status)}]++
	}
	RequestsTotal.Reset()
	for key, n := range counts {
		RequestsTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

func (c *Collector) collectMachineMetrics() {
	machines, err := c.machines.All(context.Background())
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, m := range machines {
		counts[string(m.Status)]++
	}
	MachinesTotal.Reset()
	for status, n := range counts {
		MachinesTotal.WithLabelValues(status).Set(float64(n))
	}
}
