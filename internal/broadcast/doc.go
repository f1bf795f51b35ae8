// Package broadcast fans one message out to many ranks in parallel.
// Sends to distinct ranks carry no ordering constraint between them, so
// barrier releases and shutdown drains go out concurrently and the caller
// waits for every delivery.
package broadcast
