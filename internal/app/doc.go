// Package app hosts the connection lifecycle coordinator: the background
// loop that keeps tokens fresh, drives connect/reconnect, registers
// subscriptions, and routes inbound notifications to the sink.
package app
