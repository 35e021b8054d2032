// Package sm defines the session-management wire protocol: packet and
// endpoint-metadata records, their pinned byte layout, and the enums that
// travel in them. The per-endpoint state machine that produces and consumes
// these packets lives in internal/rpc.
package sm
