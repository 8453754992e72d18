// main.go - tracedump: decode a bus-trace file saved from the monitor
//
// Reads the packed records the monitor's xl command sends over XMODEM
// and prints them as the same table the r command shows live.
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	if len(os.Args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: tracedump [tracefile]")
		os.Exit(2)
	}
	var raw []byte
	var err error
	if len(os.Args) == 2 {
		raw, err = os.ReadFile(os.Args[1])
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracedump:", err)
		os.Exit(1)
	}
	records := Decode(raw)
	fmt.Print(Render(records))
	fmt.Printf("%d entries\n", len(records))
}
