package distribution

import "errors"

var (
	// ErrProviderTransport wraps network and HTTP failures talking to a provider.
	ErrProviderTransport = errors.New("provider transport error")
	// ErrProviderRejected wraps error payloads returned by a provider.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrDataParse wraps undecodable provider responses.
	ErrDataParse = errors.New("provider data parse error")
	// ErrUnauthorized marks updates from senders outside the operator set.
	ErrUnauthorized = errors.New("sender is not an operator")

	ErrUnknownChannel = errors.New("unknown channel")
	ErrFixedPrice     = errors.New("channel has a fixed price band")
	ErrInvalidRange   = errors.New("invalid price range")
	ErrInvalidCadence = errors.New("cadence must be positive")
	ErrCycleBusy      = errors.New("cycle already running for channel")
)
