// Package notify provides the pub/sub channel lock health alerts travel on,
// with in-memory, Redis, NATS and Kafka backends. Delivery is best-effort:
// a slow subscriber drops messages rather than blocking the publisher.
package notify
