// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package features

import (
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vigilosec/vigilo/internal/cache"
	"github.com/vigilosec/vigilo/internal/models"
)

// Buckets per burst window. 60s / 12 gives 5-second resolution, which
// keeps the trailing-window count within one bucket of exact.
const burstBuckets = 12

// accumulator folds one ordered event stream into a feature vector.
// Every observe call is O(1) amortized; nothing is recomputed from the
// full event list at finalize. The same type backs both the session
// vector and the per-sub-window mini vectors.
type accumulator struct {
	e *Engine

	count      int
	failedAuth int
	privEsc    int
	suspicious int
	errors     int
	offHours   int
	bytesTotal int64

	resources map[string]struct{}
	hosts     map[string]struct{}
	ports     map[string]int
	portTotal int

	internalDest int
	destCount    int

	burst    *cache.SlidingWindowCounter
	burstMax int64

	firstTime time.Time
	lastTime  time.Time
	prevTime  time.Time

	// Welford accumulators over inter-event gaps in seconds.
	gapCount int
	gapMean  float64
	gapM2    float64

	hourSum float64
}

func newAccumulator(e *Engine) *accumulator {
	return &accumulator{
		e:         e,
		resources: make(map[string]struct{}),
		hosts:     make(map[string]struct{}),
		ports:     make(map[string]int),
	}
}

// observe folds one event in. Events must arrive in timestamp order;
// the session tracker guarantees that for closed sessions.
func (a *accumulator) observe(ev *models.SessionEvent) {
	a.count++

	if a.e.classifier.IsFailedAuth(ev.Action, ev.StatusCode) {
		a.failedAuth++
	}
	if a.e.classifier.IsPrivEscalation(ev.Action) {
		a.privEsc++
	}
	if a.e.classifier.IsSuspicious(ev.Action) {
		a.suspicious++
	}
	if ev.StatusCode >= 400 {
		a.errors++
	}
	a.bytesTotal += ev.BytesTransferred

	if ev.Resource != "" {
		a.resources[ev.Resource] = struct{}{}
	}
	if host, port, ok := splitDestination(ev.Resource); ok {
		a.hosts[host] = struct{}{}
		if port != "" {
			a.ports[port]++
			a.portTotal++
		}
		if ip := net.ParseIP(host); ip != nil {
			a.destCount++
			if a.e.isInternal(ip) {
				a.internalDest++
			}
		}
	}

	// The burst window is anchored at the first event so replayed
	// historical streams rotate buckets on event time, not wall time.
	if a.burst == nil {
		a.burst = cache.NewSlidingWindowCounterAt(a.e.cfg.BurstWindow, burstBuckets, ev.Timestamp)
	}
	a.burst.IncrementAt(ev.Timestamp, 1)
	if n := a.burst.CountAt(ev.Timestamp); n > a.burstMax {
		a.burstMax = n
	}

	if a.count == 1 {
		a.firstTime = ev.Timestamp
	} else {
		gap := ev.Timestamp.Sub(a.prevTime).Seconds()
		a.gapCount++
		delta := gap - a.gapMean
		a.gapMean += delta / float64(a.gapCount)
		a.gapM2 += delta * (gap - a.gapMean)
	}
	a.prevTime = ev.Timestamp
	a.lastTime = ev.Timestamp

	hour := ev.Timestamp.Hour()
	a.hourSum += float64(hour)
	if a.e.isOffHours(hour) {
		a.offHours++
	}
}

// hourMean returns the mean event hour in [0, 24). Zero events yield 0.
func (a *accumulator) hourMean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.hourSum / float64(a.count)
}

// finalize produces the vector in FeatureNames order. The baseline is
// the user's typical hour as of session close; haveBaseline is false
// for a user's first session, which scores a zero deviation.
func (a *accumulator) finalize(baseline float64, haveBaseline bool) []float64 {
	duration := 0.0
	if a.count >= 2 {
		duration = a.lastTime.Sub(a.firstTime).Seconds()
	}

	bytesRate := 0.0
	if duration > 0 {
		bytesRate = float64(a.bytesTotal) / duration
	}

	gapStddev := 0.0
	if a.gapCount > 0 {
		gapStddev = math.Sqrt(a.gapM2 / float64(a.gapCount))
	}

	hourMean := a.hourMean()
	hourDeviation := 0.0
	if haveBaseline {
		hourDeviation = math.Abs(hourMean - baseline)
		if hourDeviation > 12 {
			hourDeviation = 24 - hourDeviation
		}
	}

	burstFlag := 0.0
	if a.e.cfg.BurstThreshold > 0 && a.burstMax >= int64(a.e.cfg.BurstThreshold) {
		burstFlag = 1
	}

	internalRatio := 0.0
	if a.destCount > 0 {
		internalRatio = float64(a.internalDest) / float64(a.destCount)
	}

	values := make([]float64, FeatureCount)
	values[IdxEventCount] = float64(a.count)
	values[IdxFailedAuthCount] = float64(a.failedAuth)
	values[IdxPrivEscalationCount] = float64(a.privEsc)
	values[IdxDistinctResources] = float64(len(a.resources))
	values[IdxCommandBurstCount] = float64(a.burstMax)
	values[IdxSuspiciousActionRatio] = ratio(a.suspicious, a.count)
	values[IdxErrorRate] = ratio(a.errors, a.count)
	values[IdxConnectionFanout] = float64(len(a.hosts))
	values[IdxBytesTotal] = float64(a.bytesTotal)
	values[IdxBytesRate] = bytesRate
	values[IdxPortEntropy] = portEntropy(a.ports, a.portTotal)
	values[IdxInternalRatio] = internalRatio
	values[IdxDurationSeconds] = duration
	values[IdxIntereventMeanSeconds] = a.gapMean
	values[IdxIntereventStddevSeconds] = gapStddev
	values[IdxHourOfDayMean] = hourMean
	values[IdxHourDeviation] = hourDeviation
	values[IdxBurstFlag] = burstFlag
	values[IdxOffhoursRatio] = ratio(a.offHours, a.count)
	return values
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// portEntropy is the Shannon entropy (base 2) of the destination port
// distribution. Ports are summed in sorted order so the float result is
// bit-identical across runs regardless of map iteration order.
func portEntropy(ports map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}

	keys := make([]string, 0, len(ports))
	for port := range ports {
		keys = append(keys, port)
	}
	sort.Strings(keys)

	entropy := 0.0
	for _, port := range keys {
		p := float64(ports[port]) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// splitDestination extracts a network destination from a resource
// string. "10.0.0.20:443" yields host and port; a bare IP yields a host
// with no port; path-like resources are not destinations.
func splitDestination(resource string) (host, port string, ok bool) {
	if resource == "" {
		return "", "", false
	}
	if h, p, err := net.SplitHostPort(resource); err == nil {
		if _, perr := strconv.Atoi(p); perr != nil {
			return "", "", false
		}
		if strings.ContainsRune(h, '/') {
			return "", "", false
		}
		return h, p, true
	}
	if net.ParseIP(resource) != nil {
		return resource, "", true
	}
	return "", "", false
}
