// Package dedupe remembers which event ids a process has already delivered.
//
// Broker-backed bus providers publish every local event to a shared topic and
// also consume that topic. Without a memory of delivered ids each event would
// reach local subscribers twice, once on publish and once on the echo.
package dedupe
