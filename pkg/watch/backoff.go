// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	delayOnSuccess = time.Second
	minInterval    = 2 * delayOnSuccess
	maxInterval    = time.Minute
	jitterRate     = 0.2
)

var backoffRand = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

// nextDelay grows exponentially with the attempt count, capped at
// maxInterval, with ±jitterRate of randomization so that watchers recovering
// from the same outage do not stampede.
func nextDelay(numAttemptsSoFar int) time.Duration {
	var delay time.Duration
	if numAttemptsSoFar == 1 {
		delay = minInterval
	} else {
		scaled := float64(minInterval) * math.Pow(2.0, float64(numAttemptsSoFar-1))
		if scaled >= float64(maxInterval) {
			delay = maxInterval
		} else {
			delay = time.Duration(scaled)
		}
	}
	low := float64(delay) * (1 - jitterRate)
	high := float64(delay) * (1 + jitterRate)
	backoffRand.Lock()
	jittered := low + backoffRand.Float64()*(high-low)
	backoffRand.Unlock()
	return time.Duration(jittered)
}
