package server

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrBind           = errors.New("bind failure")
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotServing     = errors.New("server not serving")
)

// ConfigError aponta o campo inválido. errors.Is(err, ErrConfiguration) vale.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// BindError é a falha ao abrir o listener (porta em uso, host inválido).
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrBind, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }
