//go:build linux

package main

import "isrlink/host/serial"

func openRaw(cfg *serial.Config) (serial.Port, error) {
	return serial.OpenFile(cfg)
}
