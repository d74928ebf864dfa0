package metta

import "go.uber.org/zap"

// logger is the package-wide structured logger, using zap to match the
// logging library used across the rest of the ecosystem's service-shaped
// components. It defaults to a no-op logger so library consumers never
// get unexpected stderr output; callers that want diagnostics call
// SetLogger.
var logger *zap.Logger = zap.NewNop()

// SetLogger installs l as the package-wide logger. The tiered cache logs
// a compile task that could not be submitted to its pool at debug level;
// tier promotion, compile results and bloom-filter rebuilds are not
// logged. Passing nil restores the no-op default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}
