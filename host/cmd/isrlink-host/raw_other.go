//go:build !linux

package main

import (
	"errors"

	"isrlink/host/serial"
)

func openRaw(*serial.Config) (serial.Port, error) {
	return nil, errors.New("raw tty mode is only supported on Linux")
}
