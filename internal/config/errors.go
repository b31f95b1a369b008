package config

import (
	"errors"
)

var (
	// ErrEmptyURL error if config webserver.URL is empty.
	ErrEmptyURL = errors.New("toml config webserver.url can not be empty")

	// ErrWebServerPortCanNotBeZero error if config webserver listening port is 0.
	ErrWebServerPortCanNotBeZero = errors.New("toml config webserver.port listening port can not be 0")

	// ErrUnknownActiveEnv error if appdb.activeenv names no configured environment.
	ErrUnknownActiveEnv = errors.New("toml config appdb.activeenv does not match any configured environment")

	// ErrFailureRateCapOutOfRange error if sync.failureratecap is not within [0, 1].
	ErrFailureRateCapOutOfRange = errors.New("toml config sync.failureratecap must be between 0 and 1")
)
