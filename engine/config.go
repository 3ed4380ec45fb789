package engine

// Config holds per-context engine settings.
type Config struct {
	// MaxCallStackSize bounds script call depth. Exceeding it throws a
	// RangeError. 0 leaves the engine default.
	MaxCallStackSize int
}

// DefaultConfig returns the settings used by GlobalContextCreate.
func DefaultConfig() Config {
	return Config{MaxCallStackSize: 4096}
}
