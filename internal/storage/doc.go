// Package storage persists the delivery audit trail: one compact record per
// dispatch outcome. It stores no engine state; pending batches are in-memory
// only and do not survive restarts.
package storage
