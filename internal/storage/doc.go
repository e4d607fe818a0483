package storage

// Package storage persists the bell tower's catalogs and ring history.
//
// It currently supports:
//   - Melody catalog and schedule/event lists (load at boot, save on mutation)
//   - Ring audit appends (every actuator pulse)
