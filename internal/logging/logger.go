package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithDevice returns a logger with a device_id field
func WithDevice(logger *zap.Logger, deviceID string) *zap.Logger {
	return logger.With(zap.String("device_id", deviceID))
}

// WithRequestID returns a logger with a request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}
