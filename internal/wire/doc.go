// Package wire defines the closed set of protocol messages exchanged between
// the coordinator and the workers, the channels they travel on, and their
// protobuf wire encoding.
package wire
