// Package redis provides the Redis client and the pub/sub notification
// sink that fans translated protocol events out to downstream consumers.
package redis
