// Package dedupe provides message deduplication using a bounded seen-set
// so replayed gateway events are processed at most once.
package dedupe
