// Package blob re-exports the key-value byte store abstraction and wires the
// concrete backends. Other packages depend on blob.Store only.
package blob

import (
	"clinicflow/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	DriverSQLite     = core.DriverSQLite
	DriverPostgres   = core.DriverPostgres
	DriverRedis      = core.DriverRedis
	DriverDynamoDB   = core.DriverDynamoDB
)

var (
	// ErrNotFound indicates the key is absent.
	ErrNotFound = core.ErrNotFound
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
)

// ReadAll fetches the value stored at key.
var ReadAll = core.ReadAll

// ParseDriver validates a driver name.
func ParseDriver(s string) (Driver, bool) {
	for _, d := range core.Drivers {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}
