// Package testutil contains scripted proposers, recording executors and
// proposal builders shared by broker, retry and engine tests. It is not
// intended for production usage.
package testutil
