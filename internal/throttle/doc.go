// Package throttle counts failed logins in Redis with fixed windows:
// INCR, then EXPIRE on the first hit of a window. Keys are
// "<namespace>:lf:<subject>".
package throttle
