package pio

const cyclesPerBit = 8 // PIO cycles per serial bit in the transmitter program

// clockDivider returns the 16.8 fixed-point state machine clock divider
// that runs the transmitter at baud from a cpu Hz system clock
func clockDivider(cpu, baud uint32) (uint16, uint8) {
	if baud == 0 {
		return 0xFFFF, 0
	}
	div := uint64(cpu) * 256 / (uint64(baud) * cyclesPerBit)
	whole := div >> 8
	if whole == 0 {
		return 1, 0
	}
	if whole > 0xFFFF {
		return 0xFFFF, 0
	}
	return uint16(whole), uint8(div)
}
