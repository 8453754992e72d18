// xmodem.go - XMODEM-CRC transfers over the operator console
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import "time"

// Transfer protocol control bytes.
const (
	XMODEM_SOH = 0x01
	XMODEM_EOT = 0x04
	XMODEM_ACK = 0x06
	XMODEM_NAK = 0x15
	XMODEM_CAN = 0x18
	XMODEM_PAD = 0x1A

	XMODEM_START    = 'C'
	XMODEM_DATA_LEN = 128

	xmodemRecvRetries = 16
	xmodemSendRetries = 10
)

// crc16CCITT is the CRC of the transfer protocol: polynomial 0x1021,
// MSB first, initial value zero, over the 128 data bytes of a packet.
func crc16CCITT(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Xmodem runs XMODEM-CRC transfers over a console. Packets are SOH,
// sequence number, its complement, 128 data bytes padded with 0x1A,
// and a big-endian CRC. The receiver drives the start with 'C' and
// acknowledges per packet; either side cancels with a CAN pair. The
// timeout fields default to the reference values; tests shrink them so
// failure paths finish quickly.
//
// The console carries protocol bytes only. Mixing status text into it
// would feed the text to the peer as traffic, so diagnostics go
// through Logf; nil discards them.
type Xmodem struct {
	con  Console
	Logf func(format string, args ...any)

	StartRetryWait time.Duration // receiver: wait for SOH after each start char
	ByteTimeout    time.Duration // receiver: per-byte wait inside a packet
	PacketWait     time.Duration // receiver: wait for EOT or next SOH; sender: EOT ACK wait
	ResyncWait     time.Duration // receiver: wait for a fresh SOH after sync loss
	AckTimeout     time.Duration // sender: wait for a packet ACK
	HandshakeWait  time.Duration // sender: wait for the start char
	FinalPause     time.Duration // receiver: settle delay before draining stray EOTs
	DrainQuiet     time.Duration // quiet window when flushing the line
}

func NewXmodem(con Console) *Xmodem {
	return &Xmodem{
		con:            con,
		StartRetryWait: 3 * time.Second,
		ByteTimeout:    1 * time.Second,
		PacketWait:     2 * time.Second,
		ResyncWait:     1 * time.Second,
		AckTimeout:     5 * time.Second,
		HandshakeWait:  10 * time.Second,
		FinalPause:     500 * time.Millisecond,
		DrainQuiet:     100 * time.Millisecond,
	}
}

func (x *Xmodem) putc(b byte) {
	x.con.Write([]byte{b})
}

func (x *Xmodem) getc(timeout time.Duration) (byte, bool) {
	return x.con.ReadByte(timeout)
}

func (x *Xmodem) logf(format string, args ...any) {
	if x.Logf != nil {
		x.Logf(format, args...)
	}
}

// resyncOutcome is the result of waiting out a sync loss.
type resyncOutcome int

const (
	resyncPacket resyncOutcome = iota // a fresh SOH arrived, read its body next
	resyncQuiet                       // the line went dead, a NAK was sent
	resyncCancel                      // the sender cancelled
)

// Receive accepts one transfer into dest and returns the byte count.
// The count is always a multiple of the packet data size; trailing pad
// bytes are the sender's concern. A transfer larger than dest is
// cancelled, and a CAN from the sender aborts immediately.
func (x *Xmodem) Receive(dest []byte) (int, bool) {
	x.logf("Ready to RECEIVE XMODEM (CRC)...\n")
	setBinaryMode(x.con, true)
	defer setBinaryMode(x.con, false)

	opening, ok := x.awaitOpening()
	if !ok {
		x.logf("Error: No response from sender.\n")
		return 0, false
	}
	switch opening {
	case XMODEM_CAN:
		x.logf("Error: Transfer cancelled by sender.\n")
		return 0, false
	case XMODEM_EOT:
		// Empty transfer: the sender has nothing and goes straight to
		// the end marker.
		x.putc(XMODEM_ACK)
		x.logf("\nTransfer complete. Received 0 bytes.\n")
		time.Sleep(x.FinalPause)
		drainInput(x.con, x.DrainQuiet)
		return 0, true
	}

	var pkt [4 + XMODEM_DATA_LEN]byte // seq, ~seq, data, crc hi, crc lo
	block := byte(1)
	total := 0
	retries := 0
	for retries < xmodemRecvRetries {
		// The SOH is already consumed here, by the handshake, the
		// inter-packet wait or a resync.
		if !x.readPacketBody(pkt[:]) {
			drainInput(x.con, x.DrainQuiet)
			x.putc(XMODEM_NAK)
			retries++
			switch x.resync() {
			case resyncPacket:
				retries = 0
			case resyncCancel:
				x.logf("Error: Transfer cancelled by sender.\n")
				return 0, false
			}
			continue
		}

		data := pkt[2 : 2+XMODEM_DATA_LEN]
		switch {
		case pkt[0] == block && pkt[1] == ^block:
			crcCalc := crc16CCITT(data)
			crcRemote := uint16(pkt[130])<<8 | uint16(pkt[131])
			if crcCalc != crcRemote {
				x.putc(XMODEM_NAK)
				retries++
				switch x.resync() {
				case resyncPacket:
					retries = 0
				case resyncCancel:
					x.logf("Error: Transfer cancelled by sender.\n")
					return 0, false
				}
				continue
			}
			if total+XMODEM_DATA_LEN > len(dest) {
				x.logf("Error: XMODEM data exceeds max_len. Aborting.\n")
				x.putc(XMODEM_CAN)
				x.putc(XMODEM_CAN)
				return 0, false
			}
			copy(dest[total:], data)
			total += XMODEM_DATA_LEN
			block++
			retries = 0
			x.putc(XMODEM_ACK)
		case pkt[0] == block-1:
			// A re-sent copy of the block just taken: our ACK was
			// lost. Acknowledge again without storing.
			x.putc(XMODEM_ACK)
			retries = 0
		default:
			x.putc(XMODEM_NAK)
			retries++
			switch x.resync() {
			case resyncPacket:
				retries = 0
			case resyncCancel:
				x.logf("Error: Transfer cancelled by sender.\n")
				return 0, false
			}
			continue
		}

		// Between packets: EOT ends the transfer, SOH starts the next.
		b, ok := x.getc(x.PacketWait)
		switch {
		case ok && b == XMODEM_EOT:
			x.putc(XMODEM_ACK)
			x.logf("\nTransfer complete. Received %d bytes.\n", total)
			time.Sleep(x.FinalPause)
			drainInput(x.con, x.DrainQuiet)
			return total, true
		case ok && b == XMODEM_SOH:
			continue
		case ok && b == XMODEM_CAN:
			x.logf("Error: Transfer cancelled by sender.\n")
			return 0, false
		case !ok:
			x.putc(XMODEM_NAK)
			retries++
			switch x.resync() {
			case resyncPacket:
				retries = 0
			case resyncCancel:
				x.logf("Error: Transfer cancelled by sender.\n")
				return 0, false
			}
		default:
			// Unexpected byte between packets; regain sync quietly.
			switch x.resync() {
			case resyncPacket:
				retries = 0
			case resyncCancel:
				x.logf("Error: Transfer cancelled by sender.\n")
				return 0, false
			}
		}
	}

	x.putc(XMODEM_CAN)
	x.putc(XMODEM_CAN)
	return 0, false
}

// awaitOpening announces CRC mode until the sender opens the transfer:
// an SOH for the first packet, a bare EOT for an empty one, or a CAN
// refusing it.
func (x *Xmodem) awaitOpening() (byte, bool) {
	for try := 0; try < xmodemRecvRetries; try++ {
		x.putc(XMODEM_START)
		if b, ok := x.getc(x.StartRetryWait); ok {
			switch b {
			case XMODEM_SOH, XMODEM_EOT, XMODEM_CAN:
				return b, true
			}
		}
	}
	return 0, false
}

// readPacketBody reads the 132 bytes following an SOH. False on any
// per-byte timeout.
func (x *Xmodem) readPacketBody(pkt []byte) bool {
	for i := range pkt {
		b, ok := x.getc(x.ByteTimeout)
		if !ok {
			return false
		}
		pkt[i] = b
	}
	return true
}

// resync waits out a sync loss until a fresh SOH, a CAN, or a quiet
// line.
func (x *Xmodem) resync() resyncOutcome {
	for {
		b, ok := x.getc(x.ResyncWait)
		switch {
		case !ok:
			x.putc(XMODEM_NAK)
			return resyncQuiet
		case b == XMODEM_SOH:
			return resyncPacket
		case b == XMODEM_CAN:
			return resyncCancel
		}
	}
}

// Send transmits src as one transfer. Zero-length data is a valid
// transfer of just the end marker. A CAN from the receiver aborts.
func (x *Xmodem) Send(src []byte) bool {
	x.logf("Ready to SEND XMODEM...\n")
	setBinaryMode(x.con, true)
	defer setBinaryMode(x.con, false)

	handshake := false
	for try := 0; try < xmodemSendRetries; try++ {
		b, ok := x.getc(x.HandshakeWait)
		if ok && b == XMODEM_START {
			handshake = true
			break
		}
		if ok {
			x.logf("XMODEM Send: Handshake failed. Expected 'C', got 0x%02X\n", b)
		} else {
			x.logf("XMODEM Send: Handshake failed. Expected 'C', got timeout\n")
		}
		x.putc(XMODEM_CAN)
		x.putc(XMODEM_CAN)
	}
	if !handshake {
		x.logf("XMODEM Send: No receiver. Aborting.\n")
		return false
	}

	if len(src) == 0 {
		x.putc(XMODEM_EOT)
		x.getc(x.PacketWait) // eat the ACK
		x.logf("XMODEM Send: 0-byte transfer complete.\n")
		return true
	}

	packet := byte(1)
	for sent := 0; sent < len(src); {
		acked := false
		for try := 0; try < xmodemSendRetries; try++ {
			x.putc(XMODEM_SOH)
			x.putc(packet)
			x.putc(^packet)

			var buf [XMODEM_DATA_LEN]byte
			for i := range buf {
				buf[i] = XMODEM_PAD
			}
			copy(buf[:], src[sent:])
			x.con.Write(buf[:])

			crc := crc16CCITT(buf[:])
			x.putc(byte(crc >> 8))
			x.putc(byte(crc))

			b, ok := x.getc(x.AckTimeout)
			if ok && b == XMODEM_ACK {
				acked = true
				break
			}
			if ok && b == XMODEM_CAN {
				x.logf("XMODEM Send: Cancelled by receiver.\n")
				return false
			}
			// NAK, garbage or timeout: re-send the whole packet.
		}
		if !acked {
			x.putc(XMODEM_CAN)
			x.putc(XMODEM_CAN)
			x.logf("XMODEM Send: Failed to get ACK for packet %d\n", packet)
			return false
		}
		sent += XMODEM_DATA_LEN
		packet++
	}

	for try := 0; try < xmodemSendRetries; try++ {
		x.putc(XMODEM_EOT)
		b, ok := x.getc(x.PacketWait)
		if ok && b == XMODEM_ACK {
			x.logf("\nSend complete.\n")
			return true
		}
		if ok && b == XMODEM_CAN {
			x.logf("XMODEM Send: Cancelled by receiver.\n")
			return false
		}
	}
	x.logf("XMODEM Send: Failed to get final ACK for EOT.\n")
	return false
}
