// main.go - Cradle86 V30 bus monitor entry point

/*
 ██████╗██████╗  █████╗ ██████╗ ██╗     ███████╗ █████╗  ██████╗
██╔════╝██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝██╔══██╗██╔════╝
██║     ██████╔╝███████║██║  ██║██║     █████╗  ╚█████╔╝███████╗
██║     ██╔══██╗██╔══██║██║  ██║██║     ██╔══╝  ██╔══██╗██╔══██║
╚██████╗██║  ██║██║  ██║██████╔╝███████╗███████╗╚█████╔╝╚██████╔╝
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚══════╝ ╚════╝  ╚═════╝

(c) 2025 - 2026 ikeji
https://github.com/ikeji/cradle86
License: GPLv3 or later
*/

package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	var (
		portDev  = flag.String("port", "", "serial device for the console (default: local terminal)")
		baud     = flag.Uint("baud", 115200, "serial console baud rate")
		ramSize  = flag.Uint("ram", DEFAULT_RAM_SIZE, "RAM size in bytes (power of two)")
		traceCap = flag.Int("trace", DEFAULT_TRACE_CAPACITY, "trace log capacity in entries")
		bootPath = flag.String("boot", "", "boot image for the k and h commands")
		diskPath = flag.String("disk", "", "disk image for the hosted session (default: built-in)")
		freqKHz  = flag.Uint("freq", DEFAULT_FREQ_KHZ, "initial bus clock in kHz")
	)
	flag.Parse()

	if err := runMonitor(*portDev, *baud, *ramSize, *traceCap, *bootPath, *diskPath, *freqKHz); err != nil {
		fmt.Fprintln(os.Stderr, "cradle86:", err)
		os.Exit(1)
	}
}

func runMonitor(portDev string, baud, ramSize uint, traceCap int, bootPath, diskPath string, freqKHz uint) error {
	if ramSize == 0 || ramSize&(ramSize-1) != 0 {
		return fmt.Errorf("ram size %#x is not a power of two", ramSize)
	}
	if traceCap <= 0 {
		return fmt.Errorf("trace capacity %d must be positive", traceCap)
	}
	disk, err := LoadDiskImage(diskPath)
	if err != nil {
		return err
	}

	// Without bus hardware the engine runs against the simulated
	// processor, which blindly fetches from the reset vector.
	sim := NewSimStream(FetchStream(RESET_VECTOR))
	if err := sim.SetClockKHz(uint32(freqKHz)); err != nil {
		return err
	}

	var con Console
	if portDev != "" {
		sc, err := OpenSerialConsole(portDev, baud)
		if err != nil {
			return err
		}
		defer sc.Close()
		con = sc
	} else {
		sc := NewStdioConsole()
		if err := sc.Start(); err != nil {
			return err
		}
		defer sc.Stop()
		con = sc
	}

	ec := NewEngineContext(sim, NewAddressSpace(uint32(ramSize)), NewTraceLog(traceCap))
	ec.Logf = func(format string, args ...any) {
		fmt.Fprintf(con, format, args...)
	}
	NewMonitor(con, NewRunController(ec), sim, disk, bootPath).Run()
	return nil
}
