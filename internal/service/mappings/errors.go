package mappings

import "errors"

// Sentinel errors for the mappings service layer.
var (
	ErrInsurerNotFound  = errors.New("insurer not found")
	ErrAmbiguousInsurer = errors.New("insurer name matches more than one carrier")
	ErrSaveInProgress   = errors.New("another mapping save is in progress for this insurer")
	ErrBundleTooLarge   = errors.New("mapping bundle exceeds the store transaction limit")
)
