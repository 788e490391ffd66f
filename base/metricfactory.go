package base

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promext"
)

// MetricFactory manages Prometheus metrics for one component tree, keyed by a
// name prefix plus a set of fixed label values shared by every metric created
// from it or from any of its sub-factories.
type MetricFactory struct {
	namePrefix    string
	fixedNames    []string
	fixedValues   []string
	registryMutex *sync.Mutex
	registry      map[string]prometheus.Collector
}

// NewMetricFactory creates a root factory.
func NewMetricFactory(prefix string, fixedLabelNames []string, fixedLabelValues []string) *MetricFactory {
	if len(fixedLabelNames) != len(fixedLabelValues) {
		logger.Panicf("mismatched label names/values for prefix %s", prefix)
	}
	return &MetricFactory{
		namePrefix:    prefix,
		fixedNames:    fixedLabelNames,
		fixedValues:   fixedLabelValues,
		registryMutex: &sync.Mutex{},
		registry:      make(map[string]prometheus.Collector, 64),
	}
}

// NewSubFactory derives a factory that adds more prefix and fixed labels on top of this one's.
func (f *MetricFactory) NewSubFactory(prefix string, labelNames []string, labelValues []string) *MetricFactory {
	fullName, allNames, allValues := f.qualify(prefix, labelNames, labelValues)
	return &MetricFactory{
		namePrefix:    fullName,
		fixedNames:    allNames,
		fixedValues:   allValues,
		registryMutex: f.registryMutex,
		registry:      f.registry,
	}
}

// AddOrGetCounter adds or retrieves a counter with this factory's fixed labels applied.
func (f *MetricFactory) AddOrGetCounter(name string, help string) promext.RWCounter {
	return f.AddOrGetCounterVec(name, help, nil).WithLabelValues()
}

// AddOrGetCounterVec adds or retrieves a counter-vec, curried with this factory's fixed labels.
func (f *MetricFactory) AddOrGetCounterVec(name string, help string, labelNames []string) *promext.RWCounterVec {
	fullName, allNames, allValues := f.qualify(name, labelNames, nil)

	f.registryMutex.Lock()
	vec, ok := f.registry[fullName].(*promext.RWCounterVec)
	if !ok {
		opts := prometheus.CounterOpts{Name: fullName, Help: help}
		vec = promext.NewRWCounterVec(opts, allNames)
		f.registry[fullName] = vec
		if err := prometheus.Register(vec); err != nil {
			logger.Panicf("failed to register counter-vec %s: %s", fullName, err.Error())
		}
	}
	f.registryMutex.Unlock()

	curried, err := vec.CurryWith(labelMap(allNames[:len(allNames)-len(labelNames)], allValues[:len(allValues)-len(labelNames)]))
	if err != nil {
		logger.Panicf("failed to curry counter-vec %s: %s", fullName, err.Error())
	}
	return curried
}

// AddOrGetGauge adds or retrieves a gauge with this factory's fixed labels applied.
//
// Gauges must be updated with Add/Sub, not Set, since more than one goroutine may update them.
func (f *MetricFactory) AddOrGetGauge(name string, help string) promext.RWGauge {
	return f.AddOrGetGaugeVec(name, help, nil).WithLabelValues()
}

// AddOrGetGaugeVec adds or retrieves a gauge-vec, curried with this factory's fixed labels.
func (f *MetricFactory) AddOrGetGaugeVec(name string, help string, labelNames []string) *promext.RWGaugeVec {
	fullName, allNames, allValues := f.qualify(name, labelNames, nil)

	f.registryMutex.Lock()
	vec, ok := f.registry[fullName].(*promext.RWGaugeVec)
	if !ok {
		opts := prometheus.GaugeOpts{Name: fullName, Help: help}
		vec = promext.NewRWGaugeVec(opts, allNames)
		f.registry[fullName] = vec
		if err := prometheus.Register(vec); err != nil {
			logger.Panicf("failed to register gauge-vec %s: %s", fullName, err.Error())
		}
	}
	f.registryMutex.Unlock()

	curried, err := vec.CurryWith(labelMap(allNames[:len(allNames)-len(labelNames)], allValues[:len(allValues)-len(labelNames)]))
	if err != nil {
		logger.Panicf("failed to curry gauge-vec %s: %s", fullName, err.Error())
	}
	return curried
}

func (f *MetricFactory) qualify(name string, extraNames []string, extraValues []string) (string, []string, []string) {
	fullName := f.namePrefix + name
	allNames := append(append([]string(nil), f.fixedNames...), extraNames...)
	allValues := append(append([]string(nil), f.fixedValues...), extraValues...)
	return fullName, allNames, allValues
}

func labelMap(names []string, values []string) map[string]string {
	m := make(map[string]string, len(values))
	for i, v := range values {
		m[names[i]] = v
	}
	return m
}

