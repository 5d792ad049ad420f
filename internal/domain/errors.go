package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidImage          = errors.New("invalid image")
	ErrImageTooLarge         = errors.New("image dimensions exceed limit")
	ErrProviderFailure       = errors.New("provider failure")
	ErrPredictorUnconfigured = errors.New("no predictor configured")
	ErrCaptchaFailed         = errors.New("captcha verification failed")
)
