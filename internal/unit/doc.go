// Package unit defines the service-unit contract and the factory registry
// that maps unit kinds to constructors. A service unit is anything with a
// start/stop lifecycle; a factory builds instances of one kind from a module
// reference and a resource scope. New kinds are added by registering a
// factory, not by editing a dispatch branch.
package unit
