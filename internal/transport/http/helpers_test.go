package http

import "github.com/rs/zerolog"

func newNopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
