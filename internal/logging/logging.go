package logging

import "go.uber.org/zap"

type Cfg struct {
	Level string
	JSON  bool
}

// New builds the process logger. The returned level can be changed at runtime,
// e.g. on config reload.
func New(c Cfg) (*zap.Logger, zap.AtomicLevel) {
	cfg := zap.NewProductionConfig()
	if !c.JSON {
		cfg.Encoding = "console"
	}
	if c.Level != "" {
		_ = cfg.Level.UnmarshalText([]byte(c.Level))
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop(), cfg.Level
	}
	return l, cfg.Level
}

// SetLevel applies a textual level, keeping the current one if it does not parse.
func SetLevel(lvl zap.AtomicLevel, text string) bool {
	if err := lvl.UnmarshalText([]byte(text)); err != nil {
		return false
	}
	return true
}
