package storage

import "errors"

var (
	// ErrBadMagic is returned when an existing storage file's first byte is
	// not the expected magic byte.
	ErrBadMagic = errors.New("storage: bad magic byte")
	// ErrPageOutOfBounds is returned by Acquire for a page number beyond the
	// file's current extent.
	ErrPageOutOfBounds = errors.New("storage: page out of bounds")
	// ErrPageFreed is returned by Acquire for a page that is on the free
	// list.
	ErrPageFreed = errors.New("storage: page is freed")
	// ErrLeafPageFull is returned by WriteRecord when neither the free-block
	// chain nor the lead pointer has room for the new record.
	ErrLeafPageFull = errors.New("storage: leaf page full")
	// ErrRecordWontFit is returned when a single record is larger than a
	// leaf page could ever hold.
	ErrRecordWontFit = errors.New("storage: record too large for a page")
	// ErrEmptyCell is returned by DeleteRecord / ReadRecord for an index
	// whose cell offset is already 0.
	ErrEmptyCell = errors.New("storage: cell is empty")
	// ErrBadAllocation signals an internal free-chain/lead-pointer
	// bookkeeping inconsistency detected defensively at runtime.
	ErrBadAllocation = errors.New("storage: bad allocation")
)
