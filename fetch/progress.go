/*
   Copyright The AssetFetch Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package fetch

// progressReporter normalizes progress callbacks: values are clamped to
// [0,99] and monotonically non-decreasing, with 100 emitted exactly once by
// done when the transfer is truly complete.
type progressReporter struct {
	cb   func(int)
	last int
}

func newProgressReporter(cb func(int)) *progressReporter {
	return &progressReporter{cb: cb, last: -1}
}

func (p *progressReporter) report(v int) {
	if p.cb == nil {
		return
	}
	if v < 0 {
		v = 0
	}
	if v > 99 {
		v = 99
	}
	if v > p.last {
		p.last = v
		p.cb(v)
	}
}

func (p *progressReporter) done() {
	if p.cb == nil || p.last == 100 {
		return
	}
	p.last = 100
	p.cb(100)
}

// progressFor converts received bytes into a percentage. With a known total
// the value is exact but capped at 99 until completion. Without one, the
// value climbs asymptotically on the assumption of a ~1MiB payload, so large
// transfers still show movement without ever reaching 100 early.
func progressFor(received, total int64) int {
	if total > 0 {
		pct := int((received*100 + total/2) / total)
		if pct > 99 {
			pct = 99
		}
		return pct
	}
	const assumed = int64(1 << 20)
	return int(received * 100 / (received + assumed))
}
