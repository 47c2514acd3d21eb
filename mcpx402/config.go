package mcpx402

import (
	"log/slog"
	"time"
)

// Verification and settlement timeouts for MCP payment operations, mirroring
// the reference package's VerificationTimeout/SettlementTimeout constants:
// verification only needs to confirm the signed payload is well-formed and
// funded, settlement waits for the facilitator to actually submit and (for
// some schemes) confirm the on-chain transfer.
const (
	VerifyTimeout = 5 * time.Second
	SettleTimeout = 60 * time.Second
)

// Config holds the handler-wide settings that apply across every tool,
// independent of any one tool's payment requirements.
type Config struct {
	// VerifyOnly skips settlement for every tool, useful for testing a
	// facilitator integration without moving funds. A tool's own RouteConfig
	// may also set VerifyOnly; either one skips settlement for that call.
	VerifyOnly bool

	// Verbose enables per-request structured logging of the payment
	// lifecycle (attempt, verify, settle) at Info level.
	Verbose bool

	Logger *slog.Logger
}

// DefaultConfig returns a Config with logging at the default level and
// settlement enabled.
func DefaultConfig() *Config {
	return &Config{Logger: slog.Default()}
}

func (c *Config) logger() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
