package registry

import (
	"log"
	"sync"
	"time"

	"inkwell/internal/room"
)

// JanitorConfig controls awareness idle eviction.
type JanitorConfig struct {
	Interval time.Duration
	MaxIdle  time.Duration
}

func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval: 10 * time.Second,
		MaxIdle:  30 * time.Second,
	}
}

// Janitor periodically evicts awareness entries that stopped refreshing,
// recovering presence state from silent disconnects. Evictions are reported
// through the notify callback so the gateway can broadcast the implicit
// clear.
type Janitor struct {
	registry *Registry
	config   JanitorConfig
	notify   func(rm *room.Room, evicted []string)
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewJanitor(registry *Registry, config JanitorConfig, notify func(rm *room.Room, evicted []string)) *Janitor {
	return &Janitor{
		registry: registry,
		config:   config,
		notify:   notify,
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	log.Printf("Awareness janitor started (interval: %v, max idle: %v)",
		j.config.Interval, j.config.MaxIdle)
}

func (j *Janitor) Stop() {
	close(j.stop)
	j.wg.Wait()
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	for _, rm := range j.registry.Rooms() {
		evicted := rm.PruneAwareness(j.config.MaxIdle)
		if len(evicted) == 0 {
			continue
		}
		log.Printf("Room %s: evicted %d idle awareness entr(ies)", rm.Key(), len(evicted))
		if j.notify != nil {
			j.notify(rm, evicted)
		}
	}
}
