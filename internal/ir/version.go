package ir

// Version constants for the action encoding and the engine.
const (
	// FormatVersion is the action encoding version spoken on the sync wire.
	FormatVersion = "1"

	// EngineVersion is the avcs engine version.
	EngineVersion = "0.1.0"
)
