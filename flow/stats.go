// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

import (
	"fmt"
	"sort"
	"time"
)

// stats keeps summary statistics over a set of duration samples.
// stats stores all samples, so it should be used only for small
// datasets.
type stats struct {
	samples []time.Duration
}

func (s stats) N() int {
	return len(s.samples)
}

func (s *stats) Add(d time.Duration) {
	s.samples = append(s.samples, d)
	sort.Sort(s)
}

func (s stats) Mean() time.Duration {
	if len(s.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.samples {
		total += d
	}
	return total / time.Duration(len(s.samples))
}

func (s stats) Percentile(pct int) time.Duration {
	n := len(s.samples)
	if n == 0 {
		return 0
	}
	if pct == 100 {
		return s.samples[n-1]
	}
	return s.samples[n*pct/100]
}

func (s stats) Summary() string {
	return summary(s.Percentile(0), s.Mean(), s.Percentile(100))
}

func summary(min, mean, max time.Duration) string {
	return fmt.Sprintf("%s/%s/%s", min, mean, max)
}

func (s stats) Len() int           { return len(s.samples) }
func (s stats) Less(i, j int) bool { return s.samples[i] < s.samples[j] }
func (s stats) Swap(i, j int)      { s.samples[i], s.samples[j] = s.samples[j], s.samples[i] }
