// Package dedupe suppresses duplicate chat submissions with a TTL cache.
package dedupe
