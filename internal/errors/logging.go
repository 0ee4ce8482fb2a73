package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the log fields for err. An AppError contributes its code,
// retryability and context. Context keys that may hold secrets are dropped.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{logrus.ErrorKey: err}
	appErr, ok := As(err)
	if !ok {
		return fields
	}
	for k, v := range appErr.Context {
		if !isSensitiveKey(k) {
			fields[k] = v
		}
	}
	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	return fields
}

// Log writes err with its fields. Retryable errors are logged at warn level.
func Log(logger logrus.FieldLogger, err error, message string) {
	entry := logger.WithFields(Fields(err))
	if IsRetryable(err) {
		entry.Warn(message)
		return
	}
	entry.Error(message)
}

func isSensitiveKey(key string) bool {
	switch key {
	case "token", "secret", "credentials":
		return true
	}
	return false
}
