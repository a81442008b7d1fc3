// Package ws streams processing results to dashboard clients over
// WebSocket. Each processed batch is broadcast as a JSON envelope; slow
// clients are disconnected rather than allowed to stall the fan-out.
package ws
