package tablekeep

import (
	"github.com/pkg/errors"

	"github.com/tablekeep/tablekeep/table"
)

// ErrNameTaken is returned by Start when a live table already holds the
// requested name.
var ErrNameTaken = table.ErrNameTaken

// ErrInvalidOptions is returned by Start for malformed configuration,
// before any resource is created.
var ErrInvalidOptions = table.ErrInvalidOptions

// ErrCrashLoop is the keeper's terminal error when worker crashes exceed
// the configured restart intensity. The unit is not retried further.
var ErrCrashLoop = errors.New("worker crash rate exceeded restart intensity")

// ErrTableLost is the keeper's terminal error when owner and heir both
// terminate inside a single recovery window, before re-nomination completed.
// The table and its contents are destroyed; this is the protocol's one
// acknowledged limitation.
var ErrTableLost = errors.New("owner and heir terminated within one recovery window")
