package kvengine

import (
	"errors"
	"fmt"
)

var (
	// ErrLogic marks a broken invariant or a call the table can never accept
	// from a correct caller. It is only ever raised through panic.
	ErrLogic = errors.New("hashtable: logic error")
	// ErrInvalidArgument marks a call with an argument no correct caller passes,
	// such as a guard that does not cover the slot. Raised through panic.
	ErrInvalidArgument = errors.New("hashtable: invalid argument")

	ErrKeyNotFound         = errors.New("key not found")
	ErrSyncWriteInProgress = errors.New("sync write in progress")
	ErrNoSyncWrite         = errors.New("no pending sync write")
	ErrPartitionClosed     = errors.New("partition is closed")
	ErrInvalidParam        = errors.New("parameters are invalid")
	ErrValueNotResident    = errors.New("value is not resident")
)

func logicf(format string, args ...any) {
	panic(fmt.Errorf("%w: "+format, append([]any{ErrLogic}, args...)...))
}

func invalidArgf(format string, args ...any) {
	panic(fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...))
}

// MutationStatus is the outcome of a mutation. None of these are failures of
// the table; callers translate them into protocol responses.
type MutationStatus uint8

const (
	NotFound MutationStatus = iota
	InvalidCas
	WasClean
	WasDirty
	IsLocked
	NoMem
	NeedBgFetch
	IsPendingSyncWrite
)

func (s MutationStatus) String() string {
	switch s {
	case NotFound:
		return "NotFound"
	case InvalidCas:
		return "InvalidCas"
	case WasClean:
		return "WasClean"
	case WasDirty:
		return "WasDirty"
	case IsLocked:
		return "IsLocked"
	case NoMem:
		return "NoMem"
	case NeedBgFetch:
		return "NeedBgFetch"
	case IsPendingSyncWrite:
		return "IsPendingSyncWrite"
	}
	return fmt.Sprintf("<invalid>(%d)", uint8(s))
}

// DeletionStatus is the outcome of SoftDelete.
type DeletionStatus uint8

const (
	DeletionSuccess DeletionStatus = iota
	DeletionIsPendingSyncWrite
)

func (s DeletionStatus) String() string {
	switch s {
	case DeletionSuccess:
		return "Success"
	case DeletionIsPendingSyncWrite:
		return "IsPendingSyncWrite"
	}
	return fmt.Sprintf("<invalid>(%d)", uint8(s))
}
